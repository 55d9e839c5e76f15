package storage

import (
	"bytes"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// wireFile lists every field name the storage service has been seen to use.
// Nothing outside this file reads it.
type wireFile struct {
	ID        string `json:"id"`
	FileID    string `json:"fileId"`
	Key       string `json:"key"`
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	Path      string `json:"path"`
	Folder    string `json:"folder"`
	Bucket    string `json:"bucket"`
	BucketID  string `json:"bucketId"`

	Size      flexInt `json:"size"`
	SizeBytes flexInt `json:"sizeBytes"`

	MimeType      string `json:"mimeType"`
	MimeTypeSnake string `json:"mime_type"`
	ContentType   string `json:"contentType"`

	IsPublic      *bool  `json:"isPublic"`
	IsPublicSnake *bool  `json:"is_public"`
	Access        string `json:"access"`
	Visibility    string `json:"visibility"`

	Category string `json:"category"`
	Metadata struct {
		Category string `json:"category"`
		Access   string `json:"access"`
	} `json:"metadata"`

	URL            string `json:"url"`
	PublicURL      string `json:"publicUrl"`
	PublicURLSnake string `json:"public_url"`
	WebViewLink    string `json:"webViewLink"`
	SignedURL      string `json:"signedUrl"`
	SignedURLSnake string `json:"signed_url"`
	DownloadURL    string `json:"downloadUrl"`
}

type wireEnvelope struct {
	Files   []wireFile `json:"files"`
	Items   []wireFile `json:"items"`
	Data    []wireFile `json:"data"`
	Objects []wireFile `json:"objects"`
}

// flexInt accepts numbers and numeric strings.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	*f = flexInt(n)
	return nil
}

// Normalize maps a raw listing body into FileRecords. The body may be a bare
// array or an object wrapping the array under files, items, data or objects.
func Normalize(raw []byte, bucket string) ([]FileRecord, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var files []wireFile
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &files); err != nil {
			return nil, fmt.Errorf("failed to decode listing: %w", err)
		}
	} else {
		var env wireEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("failed to decode listing: %w", err)
		}
		files = firstNonEmpty(env.Files, env.Items, env.Data, env.Objects)
	}

	records := make([]FileRecord, 0, len(files))
	for _, wf := range files {
		record, ok := wf.normalize(bucket)
		if ok {
			records = append(records, record)
		}
	}
	return records, nil
}

func (wf wireFile) normalize(bucket string) (FileRecord, bool) {
	name := pick(wf.Name, wf.Filename)
	folder := pick(wf.Path, wf.Folder)
	if name == "" && wf.Key != "" {
		name = path.Base(wf.Key)
		if folder == "" {
			folder = path.Dir(wf.Key)
		}
	}
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == "/" {
		return FileRecord{}, false
	}
	// Some responses put the full key into path.
	if strings.HasSuffix(folder, "/"+name) {
		folder = strings.TrimSuffix(folder, "/"+name)
	}

	record := FileRecord{
		ID:       pick(wf.ID, wf.FileID, wf.Key),
		Bucket:   pick(wf.Bucket, wf.BucketID, bucket),
		Name:     name,
		Path:     strings.Trim(folder, "/"),
		Size:     int64(wf.Size),
		MimeType: strings.ToLower(pick(wf.MimeType, wf.MimeTypeSnake, wf.ContentType)),
		Category: strings.ToLower(pick(wf.Metadata.Category, wf.Category)),
		IsPublic: wf.isPublic(),
	}
	if record.Size == 0 {
		record.Size = int64(wf.SizeBytes)
	}

	record.PublicURL = pick(wf.PublicURL, wf.PublicURLSnake, wf.WebViewLink)
	record.SignedURL = pick(wf.SignedURL, wf.SignedURLSnake, wf.DownloadURL)
	if wf.URL != "" {
		if record.IsPublic && record.PublicURL == "" {
			record.PublicURL = wf.URL
		} else if record.SignedURL == "" {
			record.SignedURL = wf.URL
		}
	}
	return record, true
}

func (wf wireFile) isPublic() bool {
	switch {
	case wf.IsPublic != nil:
		return *wf.IsPublic
	case wf.IsPublicSnake != nil:
		return *wf.IsPublicSnake
	}
	access := strings.ToLower(pick(wf.Metadata.Access, wf.Access, wf.Visibility))
	return access == string(AccessPublic)
}

func pick(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonEmpty(lists ...[]wireFile) []wireFile {
	for _, l := range lists {
		if len(l) > 0 {
			return l
		}
	}
	return nil
}
