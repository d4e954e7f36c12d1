package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/dharsanguruparan/indexqueue/internal/backend"
	"github.com/dharsanguruparan/indexqueue/internal/model"
	"github.com/dharsanguruparan/indexqueue/internal/site"
)

// LogArchive stores log entries, the s3 storage implements it.
type LogArchive interface {
	ArchiveLog(ctx context.Context, key string, data []byte) error
}

// Log writes the per item indexing log for sites that enable it.
type Log struct {
	archive LogArchive
	now     func() time.Time
}

// NewLog makes a Log. archive may be nil.
func NewLog(archive LogArchive) *Log {
	return &Log{archive: archive, now: time.Now}
}

// LogEntry is one archived log record.
type LogEntry struct {
	Time      time.Time         `json:"time"`
	Item      *model.Item       `json:"item"`
	Language  int               `json:"language"`
	Documents []*model.Document `json:"documents"`
	Response  backend.Response  `json:"response"`
	Error     string            `json:"error,omitempty"`
}

// LogKey is the archive key of the latest entry of an item language.
func LogKey(root int, itemID int64, language int) string {
	return fmt.Sprintf("%d/%d/%d.json", root, itemID, language)
}

// Record logs the submission of docs for item in language.
func (l *Log) Record(ctx context.Context, st *site.Site, item *model.Item, language int, docs []*model.Document, resp backend.Response, err error) {
	if l == nil || !st.Logging.IndexingEnabled(item.IndexingConfiguration) {
		return
	}
	entry := LogEntry{
		Time:      l.now().UTC(),
		Item:      item,
		Language:  language,
		Documents: docs,
		Response:  resp,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	log.Printf("[INFO] index queue item %d %s:%d language %d, %d documents, status %d %s",
		item.ID, item.ItemType, item.ItemUID, language, len(docs), resp.Status, entry.Error)
	if l.archive == nil {
		return
	}
	data, mErr := json.Marshal(entry)
	if mErr != nil {
		log.Printf("[WARN] encode indexing log of item %d: %v", item.ID, mErr)
		return
	}
	if aErr := l.archive.ArchiveLog(ctx, LogKey(item.RootPageID, item.ID, language), data); aErr != nil {
		log.Printf("[WARN] archive indexing log of item %d: %v", item.ID, aErr)
	}
}
