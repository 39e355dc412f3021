package watcher

// EventType represents the type of library event derived from the file system.
type EventType int

const (
	// BookAdded is emitted when a book file has settled after being created
	// or rewritten.
	BookAdded EventType = iota
	// BookDeleted is emitted when a book file is removed or renamed away.
	BookDeleted
	// FolderDeleted is emitted when a watched directory disappears; every
	// book under it is gone.
	FolderDeleted
	// InvalidBook is emitted when a settled book file's content does not
	// match its extension.
	InvalidBook
	// FileSkipped is emitted for book files excluded without parsing, such
	// as empty or oversized files.
	FileSkipped
)

// String returns the string representation of the event type
func (t EventType) String() string {
	switch t {
	case BookAdded:
		return "book_added"
	case BookDeleted:
		return "book_deleted"
	case FolderDeleted:
		return "folder_deleted"
	case InvalidBook:
		return "invalid_book"
	case FileSkipped:
		return "file_skipped"
	default:
		return "unknown"
	}
}

// Event represents a library-relevant file system change.
type Event struct {
	Type EventType
	Path string
	// Format is set on BookAdded.
	Format string
	// Count is the number of files a FileSkipped event stands for.
	Count int
}
