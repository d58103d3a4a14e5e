// Package attach validates and encodes message attachments before they are
// handed to the composer: image batches are size-checked and base64-encoded,
// location picks are normalized into a canonical record.
package attach

// Kind discriminates the attachment union.
type Kind string

const (
	KindImage    Kind = "image"
	KindLocation Kind = "location"
)

// Attachment is a tagged union: exactly one of Image or Location is set,
// matching Kind.
type Attachment struct {
	Kind     Kind      `json:"kind"`
	Image    *Image    `json:"image,omitempty"`
	Location *Location `json:"location,omitempty"`
}

// Image is an inline base64-encoded picture.
type Image struct {
	DataURI   string `json:"data_uri"`
	SizeBytes int64  `json:"size_bytes"`
}

// Location is a normalized geographic pick.
type Location struct {
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	Label        string  `json:"label,omitempty"`
	Address      string  `json:"address,omitempty"`
	MapsURL      string  `json:"maps_url"`
	StaticMapURL string  `json:"static_map_url"`
}

// ImageAttachment wraps an Image in the union.
func ImageAttachment(img *Image) Attachment {
	return Attachment{Kind: KindImage, Image: img}
}

// LocationAttachment wraps a Location in the union.
func LocationAttachment(loc *Location) Attachment {
	return Attachment{Kind: KindLocation, Location: loc}
}
