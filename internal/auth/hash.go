// Package auth computes the legacy request validation header sent alongside
// DMAP requests. Servers largely ignore it, but those that check it expect
// this exact byte sequence.
package auth

import (
	"encoding/base64"
	"strconv"
	"sync"
)

const (
	// HeaderValidation carries the hash; HeaderRequestID the request counter.
	HeaderValidation = "Client-DAAP-Validation"
	HeaderRequestID  = "Client-DAAP-Request-ID"
	HeaderAccessIdx  = "Client-DAAP-Access-Index"

	// DefaultSelect is the table row clients conventionally use.
	DefaultSelect = 2

	rowSize = 32
)

const hexChars = "0123456789ABCDEF"

var copyright = mustDecode("Q29weXJpZ2h0IDIwMDMgQXBwbGUgQ29tcHV0ZXIsIEluYy4=")

var (
	tablesOnce sync.Once
	tableV2    []byte
	tableV3    []byte
)

// Hash returns the 32-character validation value for path. versionMajor 3
// selects the v3 table and digest; anything else uses v2. requestID only
// contributes for v3 when positive.
func Hash(versionMajor int, path string, hashSelect int, requestID int) string {
	tablesOnce.Do(func() {
		tableV2 = generateV2()
		tableV3 = generateV3()
	})

	v3 := versionMajor == 3
	table := tableV2
	if v3 {
		table = tableV3
	}
	row := table[(hashSelect&0xff)*rowSize : (hashSelect&0xff+1)*rowSize]

	d := newDigest(v3)
	d.WriteString(path)
	d.Write(copyright)
	d.Write(row)
	if v3 && requestID > 0 {
		d.WriteString(strconv.Itoa(requestID))
	}

	out := make([]byte, rowSize)
	hexInto(out, d.Sum())
	return string(out)
}

// hexInto writes the low nibble of each byte before the high nibble.
func hexInto(dst []byte, sum [16]byte) {
	for i, b := range sum {
		dst[i*2] = hexChars[b&0x0f]
		dst[i*2+1] = hexChars[(b>>4)&0x0f]
	}
}

type choice struct {
	bit      int
	set, not string
}

// Feed order matters; the bit tested first is not always the top bit.
var v2Choices = []choice{
	{0x80, "Accept-Language", "user-agent"},
	{0x40, "max-age", "Authorization"},
	{0x20, "Client-DAAP-Version", "Accept-Encoding"},
	{0x10, "daap.protocolversion", "daap.songartist"},
	{0x08, "daap.songcomposer", "daap.songdatemodified"},
	{0x04, "daap.songdiscnumber", "daap.songdisabled"},
	{0x02, "playlist-item-spec", "revision-number"},
	{0x01, "session-id", "content-codes"},
}

var v3Choices = []choice{
	{0x40, "eqwsdxcqwesdc", "op[;lm,piojkmn"},
	{0x20, "876trfvb 34rtgbvc", "=-0ol.,m3ewrdfv"},
	{0x10, "87654323e4rgbv ", "1535753690868867974342659792"},
	{0x08, "Song Name", "DAAP-CLIENT-ID:"},
	{0x04, "111222333444555", "4089961010"},
	{0x02, "playlist-item-spec", "revision-number"},
	{0x01, "session-id", "content-codes"},
	{0x80, "IUYHGFDCXWEDFGHN", "iuytgfdxwerfghjm"},
}

func generateV2() []byte {
	return generateTable(v2Choices, false)
}

func generateV3() []byte {
	return generateTable(v3Choices, true)
}

func generateTable(choices []choice, broken bool) []byte {
	table := make([]byte, 256*rowSize)
	for i := 0; i < 256; i++ {
		d := newDigest(broken)
		for _, c := range choices {
			if i&c.bit != 0 {
				d.WriteString(c.set)
			} else {
				d.WriteString(c.not)
			}
		}
		hexInto(table[i*rowSize:(i+1)*rowSize], d.Sum())
	}
	return table
}

func mustDecode(s string) []byte {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}
