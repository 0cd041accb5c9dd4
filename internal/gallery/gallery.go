// Package gallery holds the image container that upload results are rendered
// into, and the HTML page that displays it.
package gallery

import (
	_ "embed"
	"encoding/base64"
	"fmt"
	"html/template"
	"io"
	"sort"
	"strconv"
	"sync"
)

// DisplayWidth is the fixed width, in pixels, of every rendered image.
const DisplayWidth = 300

// DataURIPrefix is prepended to the base64 payload of each image.
const DataURIPrefix = "data:image/jpeg;base64,"

//go:embed templates/gallery.html
var pageTemplate string

var tmpl = template.Must(template.New("gallery").Parse(pageTemplate))

// Image is one named base64 encoded JPEG.
type Image struct {
	Name string
	Data string
}

// Src returns the inline data URI for the image.
func (i Image) Src() template.URL {
	return template.URL(DataURIPrefix + i.Data)
}

// Average is one column summary shown next to the images.
type Average struct {
	Column string
	Value  *float64
}

// Display formats the value, or "n/a" when the column had no numbers.
func (a Average) Display() string {
	if a.Value == nil {
		return "n/a"
	}
	return strconv.FormatFloat(*a.Value, 'f', 2, 64)
}

// Snapshot is a consistent copy of the container contents.
type Snapshot struct {
	RequestID string
	Images    []Image
	Averages  []Average
	Version   uint64
}

// InvalidImageError reports an image payload that is not valid base64.
type InvalidImageError struct {
	Name string
	Err  error
}

func (e *InvalidImageError) Error() string {
	return fmt.Sprintf("image %q is not valid base64: %v", e.Name, e.Err)
}

func (e *InvalidImageError) Unwrap() error { return e.Err }

// Container is the shared image container. It always holds exactly the
// images of the latest successful Replace.
type Container struct {
	mu       sync.RWMutex
	snapshot Snapshot
}

// NewContainer returns an empty container.
func NewContainer() *Container {
	return &Container{}
}

// Replace swaps the container contents for the given images and averages.
// Every image is validated first; on error the container is left untouched.
func (c *Container) Replace(requestID string, images map[string]string, averages map[string]*float64) error {
	next := make([]Image, 0, len(images))
	for name, data := range images {
		if _, err := base64.StdEncoding.DecodeString(data); err != nil {
			return &InvalidImageError{Name: name, Err: err}
		}
		next = append(next, Image{Name: name, Data: data})
	}
	sort.Slice(next, func(i, j int) bool { return next[i].Name < next[j].Name })

	avg := make([]Average, 0, len(averages))
	for col, v := range averages {
		avg = append(avg, Average{Column: col, Value: v})
	}
	sort.Slice(avg, func(i, j int) bool { return avg[i].Column < avg[j].Column })

	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = Snapshot{
		RequestID: requestID,
		Images:    next,
		Averages:  avg,
		Version:   c.snapshot.Version + 1,
	}
	return nil
}

// Snapshot returns a copy of the current contents.
func (c *Container) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.snapshot
	s.Images = append([]Image(nil), s.Images...)
	s.Averages = append([]Average(nil), s.Averages...)
	return s
}

// Images returns the current images ordered by name.
func (c *Container) Images() []Image {
	return c.Snapshot().Images
}

// Version counts successful replacements; it is zero for a fresh container.
func (c *Container) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot.Version
}

// Page is the data rendered by Render.
type Page struct {
	Title string
	// Action is the form target; the upload form is omitted when empty.
	Action   string
	Error    string
	Snapshot Snapshot
	Width    int
}

// Render writes the gallery page.
func Render(w io.Writer, page Page) error {
	if page.Title == "" {
		page.Title = "Claim Insights"
	}
	if page.Width == 0 {
		page.Width = DisplayWidth
	}
	return tmpl.Execute(w, page)
}

// RenderContainer writes the page for the container's current contents.
func RenderContainer(w io.Writer, c *Container, action string) error {
	return Render(w, Page{Action: action, Snapshot: c.Snapshot()})
}
