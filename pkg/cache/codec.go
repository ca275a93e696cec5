package cache

import (
	"github.com/goccy/go-json"
	"github.com/kerbaras/mangadl/pkg/data"
)

// PageListCodec serializes the page list of a chapter for the cache.
type PageListCodec interface {
	Marshal(pages []data.PageInfo) ([]byte, error)
	Unmarshal(b []byte) ([]data.PageInfo, error)
}

type JSONCodec struct{}

func (JSONCodec) Marshal(pages []data.PageInfo) ([]byte, error) {
	return json.Marshal(pages)
}

func (JSONCodec) Unmarshal(b []byte) ([]data.PageInfo, error) {
	var pages []data.PageInfo
	if err := json.Unmarshal(b, &pages); err != nil {
		return nil, err
	}
	return pages, nil
}
