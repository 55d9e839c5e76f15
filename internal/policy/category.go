package policy

import "strings"

type Category string

const (
	CategoryHeadshot  Category = "headshot"
	CategoryGallery   Category = "gallery"
	CategoryReel      Category = "reel"
	CategoryVoiceOver Category = "voice_over"
	CategoryResume    Category = "resume"
	CategorySelfTape  Category = "self_tape"
	CategoryDocument  Category = "document"
	CategoryOther     Category = "other"
)

var Categories = []Category{
	CategoryHeadshot,
	CategoryGallery,
	CategoryReel,
	CategoryVoiceOver,
	CategoryResume,
	CategorySelfTape,
	CategoryDocument,
	CategoryOther,
}

// Class groups categories that share a bucket and quota defaults.
type Class string

const (
	ClassImage    Class = "images"
	ClassMedia    Class = "media"
	ClassDocument Class = "documents"
	ClassOther    Class = "fallback"
)

var folders = map[Category]string{
	CategoryHeadshot:  "headshots",
	CategoryGallery:   "gallery",
	CategoryReel:      "reels",
	CategoryVoiceOver: "voice-overs",
	CategoryResume:    "resumes",
	CategorySelfTape:  "self-tapes",
	CategoryDocument:  "documents",
	CategoryOther:     "other",
}

// ParseCategory accepts the enum value, its folder name or a dashed
// spelling. Anything else is CategoryOther.
func ParseCategory(s string) Category {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "_")
	for _, c := range Categories {
		if s == string(c) || s == strings.ReplaceAll(folders[c], "-", "_") {
			return c
		}
	}
	return CategoryOther
}

func (c Category) Folder() string {
	if folder, ok := folders[c]; ok {
		return folder
	}
	return folders[CategoryOther]
}

func (c Category) Class() Class {
	switch c {
	case CategoryHeadshot, CategoryGallery:
		return ClassImage
	case CategoryReel, CategoryVoiceOver, CategorySelfTape:
		return ClassMedia
	case CategoryResume, CategoryDocument:
		return ClassDocument
	default:
		return ClassOther
	}
}

func (c Category) IsImage() bool {
	return c.Class() == ClassImage
}

// AllowsContentType reports whether a file of contentType may be filed
// under the category.
func (c Category) AllowsContentType(contentType string) bool {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	switch c {
	case CategoryHeadshot, CategoryGallery:
		return strings.HasPrefix(contentType, "image/")
	case CategoryReel, CategorySelfTape:
		return strings.HasPrefix(contentType, "video/")
	case CategoryVoiceOver:
		return strings.HasPrefix(contentType, "audio/")
	case CategoryResume, CategoryDocument:
		return contentType == "application/pdf" ||
			contentType == "application/msword" ||
			contentType == "application/vnd.openxmlformats-officedocument.wordprocessingml.document" ||
			contentType == "text/plain"
	default:
		return contentType != ""
	}
}
