package download

import "fmt"

// State is the lifecycle state of a Download.
type State int32

const (
	StateChecked       State = -1
	StateNotDownloaded State = 0
	StateQueue         State = 1
	StateDownloading   State = 2
	StateDownloaded    State = 3
	StateError         State = 4
)

func (s State) String() string {
	switch s {
	case StateChecked:
		return "checked"
	case StateNotDownloaded:
		return "not_downloaded"
	case StateQueue:
		return "queued"
	case StateDownloading:
		return "downloading"
	case StateDownloaded:
		return "downloaded"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// InFlight reports whether a download in this state is still owned by the queue's workers.
func (s State) InFlight() bool {
	return s == StateQueue || s == StateDownloading
}

// PageState is the lifecycle state of a single Page.
type PageState int32

const (
	PageQueue PageState = iota
	PageLoadPage
	PageDownloadImage
	PageReady
	PageError
)

func (s PageState) String() string {
	switch s {
	case PageQueue:
		return "queued"
	case PageLoadPage:
		return "load_page"
	case PageDownloadImage:
		return "download_image"
	case PageReady:
		return "ready"
	case PageError:
		return "error"
	default:
		return fmt.Sprintf("page_state(%d)", int32(s))
	}
}
