package library

// EventKind names one kind of mirror change.
type EventKind int

const (
	DatabaseAdded EventKind = iota
	DatabaseRemoved
	DatabaseUpdated
	AlbumAdded
	AlbumRemoved
	PhotoAdded
	PhotoRemoved
	PhotoUpdated
)

func (k EventKind) String() string {
	switch k {
	case DatabaseAdded:
		return "database_added"
	case DatabaseRemoved:
		return "database_removed"
	case DatabaseUpdated:
		return "database_updated"
	case AlbumAdded:
		return "album_added"
	case AlbumRemoved:
		return "album_removed"
	case PhotoAdded:
		return "photo_added"
	case PhotoRemoved:
		return "photo_removed"
	case PhotoUpdated:
		return "photo_updated"
	default:
		return "unknown"
	}
}

// Event carries the entities affected by one change. Album is set for album
// events and for photo membership changes; it is nil for database-level
// photo changes.
type Event struct {
	Kind     EventKind
	Database *Database
	Album    *Album
	Photo    *Photo
}

// Observer receives events synchronously on the refreshing goroutine.
type Observer interface {
	Notify(Event)
}

// ObserverFunc adapts a function into an Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Notify(e Event) {
	f(e)
}
