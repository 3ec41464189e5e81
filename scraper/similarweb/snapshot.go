// Package similarweb extracts analytics records from saved SimilarWeb page
// snapshots. Each snapshot embeds its data as a JSON object assigned to
// window.__APP_DATA__ inside a <script> element.
package similarweb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"seo-metrics-etl/config"
	"seo-metrics-etl/models"
	"seo-metrics-etl/utils"
)

// PayloadMarker identifies the script that carries the page data.
const PayloadMarker = "window.__APP_DATA__"

const dateLayout = "2006-01-02"

var (
	// ErrPayloadNotFound means no script in the document carries PayloadMarker.
	ErrPayloadNotFound = errors.New("embedded payload not found")
	// ErrPayloadNotObject means the payload decoded to something other than a JSON object.
	ErrPayloadNotObject = errors.New("embedded payload is not a JSON object")
)

// ExtractionError reports a snapshot whose payload could not be located or
// decoded. The file is skipped; the batch goes on.
type ExtractionError struct {
	Source string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Source, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Extractor projects the configured fields out of HTML snapshots.
type Extractor struct {
	fields      *config.FieldsConfig
	prefix      string
	concurrency int
	logger      *utils.Logger
}

// New creates an Extractor. prefix is the file-name prefix stripped before
// reading the site and date out of a snapshot name.
func New(fields *config.FieldsConfig, prefix string, concurrency int, logger *utils.Logger) *Extractor {
	if fields == nil {
		fields = config.DefaultFields()
	}
	return &Extractor{
		fields:      fields,
		prefix:      prefix,
		concurrency: concurrency,
		logger:      logger,
	}
}

// ExtractAll extracts every file, concurrently when the extractor was built
// with a concurrency above one. Failed files are logged and returned in the
// error slice; they never abort the batch. Records come back sorted by site,
// scrape date and source path, whatever order the workers finished in.
func (e *Extractor) ExtractAll(ctx context.Context, files []string) ([]*models.RawRecord, []error) {
	var (
		mu       sync.Mutex
		records  = make([]*models.RawRecord, 0, len(files))
		failures []error
	)

	pool := utils.NewWorkerPool(e.concurrency)
	for i, file := range files {
		f := file
		err := pool.Submit(ctx, func() error {
			rec, err := e.ExtractFile(f)
			if err != nil {
				e.logger.Error("[extract] Skipping %s: %v", f, err)
				return err
			}
			mu.Lock()
			records = append(records, rec)
			mu.Unlock()
			return nil
		})
		if err != nil {
			for _, rest := range files[i:] {
				failures = append(failures, &ExtractionError{Source: rest, Err: err})
			}
			break
		}
	}
	failures = append(failures, pool.Wait()...)

	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Site != b.Site {
			return a.Site < b.Site
		}
		if !a.ScrapeDate.Equal(b.ScrapeDate) {
			return a.ScrapeDate.Before(b.ScrapeDate)
		}
		return a.Source < b.Source
	})

	e.logger.Info("[extract] Extracted %d of %d files (%d failed)", len(records), len(files), len(failures))
	return records, failures
}

// ExtractFile reads one snapshot from disk. Site and scrape date come from the
// file name; without a date in the name the file's modification day is used.
func (e *Extractor) ExtractFile(path string) (*models.RawRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ExtractionError{Source: path, Err: err}
	}
	defer f.Close()

	rec, err := e.Extract(f, path)
	if err != nil {
		return nil, err
	}

	site, date, ok := ParseFileName(path, e.prefix)
	rec.Site = site
	if ok {
		rec.ScrapeDate = date
	} else if info, statErr := f.Stat(); statErr == nil {
		y, m, d := info.ModTime().UTC().Date()
		rec.ScrapeDate = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}

	e.logger.Debug("[extract] %s -> site=%s date=%s", path, rec.Site, rec.ScrapeDate.Format(dateLayout))
	return rec, nil
}

// Extract decodes the payload from an HTML document and projects the
// configured fields. A missing path leaves a nil value for that alias.
func (e *Extractor) Extract(r io.Reader, source string) (*models.RawRecord, error) {
	payload, err := FindPayload(r)
	if err != nil {
		return nil, &ExtractionError{Source: source, Err: err}
	}

	root, ok := Lookup(payload, e.fields.Root)
	if !ok {
		return nil, &ExtractionError{
			Source: source,
			Err:    fmt.Errorf("payload root %q not found", strings.Join(e.fields.Root, ".")),
		}
	}

	rec := &models.RawRecord{
		Source: source,
		Fields: make(map[string]any, len(e.fields.Fields)),
	}
	for _, field := range e.fields.Fields {
		v, found := Lookup(root, field.Path)
		if !found {
			e.logger.Debug("[extract] %s: field %s (%s) missing", source, field.Alias, strings.Join(field.Path, "."))
		}
		rec.Fields[field.Alias] = v
	}
	return rec, nil
}

// FindPayload parses the HTML document and decodes the JSON object assigned
// to PayloadMarker. Numbers are kept as json.Number.
func FindPayload(r io.Reader) (map[string]any, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var script string
	doc.Find("script").EachWithBreak(func(i int, s *goquery.Selection) bool {
		text := s.Text()
		if strings.Contains(text, PayloadMarker) {
			script = text
			return false
		}
		return true
	})
	if script == "" {
		return nil, ErrPayloadNotFound
	}

	return decodeAssignment(script)
}

// decodeAssignment decodes the value in `window.__APP_DATA__ = {...};`.
// Anything after the JSON value is ignored.
func decodeAssignment(script string) (map[string]any, error) {
	idx := strings.Index(script, PayloadMarker)
	rest := strings.TrimSpace(script[idx+len(PayloadMarker):])
	if !strings.HasPrefix(rest, "=") {
		return nil, fmt.Errorf("%w: no assignment after marker", ErrPayloadNotFound)
	}
	rest = strings.TrimSpace(rest[1:])

	dec := json.NewDecoder(strings.NewReader(rest))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, ErrPayloadNotObject
	}
	return obj, nil
}

// Lookup walks path through nested objects. A numeric segment indexes into an
// array. The second result is false when any segment is missing.
func Lookup(tree any, path []string) (any, bool) {
	cur := tree
	for _, seg := range path {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// ParseFileName reads the site and scrape date out of a snapshot name of the
// form <prefix>_<site>_<YYYY-MM-DD>.html. ok is false when the name carries
// no date; site is then everything after the prefix.
func ParseFileName(path, prefix string) (site string, date time.Time, ok bool) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	name = strings.TrimPrefix(name, prefix)
	name = strings.TrimLeft(name, "_-")

	if i := strings.LastIndex(name, "_"); i >= 0 {
		if d, err := time.Parse(dateLayout, name[i+1:]); err == nil {
			return name[:i], d, true
		}
	}
	return name, time.Time{}, false
}
