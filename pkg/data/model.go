package data

type Manga struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	CoverURL string `json:"cover_url,omitempty"`
	Source   string `json:"source,omitempty"`
}

type Chapter struct {
	ID      string `json:"id"`
	MangaID string `json:"manga_id"`
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
	Volume  string `json:"volume,omitempty"`
	Number  string `json:"number,omitempty"`
}

// PageInfo is the serializable part of a chapter page. ImageURL may be empty
// when the page URL already points at the image.
type PageInfo struct {
	Index    int    `json:"index"`
	URL      string `json:"url"`
	ImageURL string `json:"image_url,omitempty"`
}

// ImageSource returns the URL the page image is fetched from.
func (p PageInfo) ImageSource() string {
	if p.ImageURL != "" {
		return p.ImageURL
	}
	return p.URL
}
