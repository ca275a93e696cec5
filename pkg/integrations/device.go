package integrations

import (
	"slices"
	"strings"
)

// Device is the screen an export is prepared for.
type Device struct {
	Name      string
	Width     int
	Height    int
	Grayscale bool
}

var Devices = map[string]Device{
	"kindle":             {Name: "Kindle Basic", Width: 758, Height: 1024, Grayscale: true},
	"kindle-paperwhite":  {Name: "Kindle Paperwhite 3/4", Width: 1072, Height: 1448, Grayscale: true},
	"kindle-paperwhite5": {Name: "Kindle Paperwhite 5", Width: 1236, Height: 1648, Grayscale: true},
	"kindle-oasis":       {Name: "Kindle Oasis 3", Width: 1264, Height: 1680, Grayscale: true},
	"kindle-scribe":      {Name: "Kindle Scribe", Width: 1860, Height: 2480, Grayscale: true},
	"kindle-fire-hd":     {Name: "Kindle Fire HD 8", Width: 800, Height: 1280},
	"kobo-clara":         {Name: "Kobo Clara", Width: 1072, Height: 1448, Grayscale: true},
}

func LookupDevice(id string) (Device, bool) {
	d, ok := Devices[strings.ToLower(id)]
	return d, ok
}

// DeviceIDs lists the known device ids in order.
func DeviceIDs() []string {
	ids := make([]string, 0, len(Devices))
	for id := range Devices {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// ImageSettings returns how pages are converted for d. E-ink screens get
// grayscale pages with a little more contrast.
func (d Device) ImageSettings() ImageSettings {
	s := ImageSettings{
		MaxWidth:  d.Width,
		MaxHeight: d.Height,
		Quality:   85,
		Grayscale: d.Grayscale,
		Contrast:  1.0,
	}
	if d.Grayscale {
		s.Contrast = 1.1
	}
	return s
}
