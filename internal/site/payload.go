package site

import "strings"

const defaultAvatarURL = "https://assets.tumblr.com/images/default_avatar/octahedron_closed_512.png"

type askPayload struct {
	Content []contentBlock `json:"content"`
	Layout  []layoutBlock  `json:"layout"`
	Context string         `json:"context"`
	State   string         `json:"state"`
}

type contentBlock struct {
	Type       string       `json:"type"`
	Text       string       `json:"text"`
	Formatting []formatting `json:"formatting,omitempty"`
}

type formatting struct {
	Type  string `json:"type"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	URL   string `json:"url"`
}

type layoutBlock struct {
	Type        string       `json:"type"`
	Blocks      []int        `json:"blocks"`
	Attribution *attribution `json:"attribution,omitempty"`
}

type attribution struct {
	Type string  `json:"type"`
	Blog blogRef `json:"blog"`
}

type blogRef struct {
	Name   string   `json:"name"`
	Avatar []avatar `json:"avatar"`
	URL    string   `json:"url"`
}

type avatar struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	URL    string `json:"url"`
}

// buildAskPayload assembles the post body the ask endpoint expects. The link
// formatting range covers the first occurrence of the link URL inside the
// text; when the URL does not appear, no formatting block is attached.
func buildAskPayload(msg Message, sender *Profile) askPayload {
	block := contentBlock{Type: "text", Text: msg.Text}
	if msg.LinkURL != "" {
		if start := strings.Index(msg.Text, msg.LinkURL); start >= 0 {
			block.Formatting = []formatting{{
				Type:  "link",
				Start: start,
				End:   start + len(msg.LinkURL),
				URL:   msg.LinkURL,
			}}
		}
	}

	layout := layoutBlock{Type: "ask", Blocks: []int{0}}
	if sender != nil && sender.Name != "" {
		layout.Attribution = &attribution{
			Type: "blog",
			Blog: blogRef{
				Name:   sender.Name,
				Avatar: []avatar{{Width: 512, Height: 512, URL: defaultAvatarURL}},
				URL:    "https://" + sender.Name + ".tumblr.com/",
			},
		}
	}

	return askPayload{
		Content: []contentBlock{block},
		Layout:  []layoutBlock{layout},
		Context: "Blog",
		State:   "ask",
	}
}
