package locator

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/sells-group/docsage/internal/model"
)

// recordCache keeps recently resolved document records so repeat questions
// on the same document skip the metadata store.
type recordCache struct {
	lru *expirable.LRU[string, model.Document]
}

func newRecordCache(size int, ttl time.Duration) *recordCache {
	if size <= 0 {
		return nil
	}
	return &recordCache{lru: expirable.NewLRU[string, model.Document](size, nil, ttl)}
}

func cacheKey(userID, fingerprint string) string {
	return userID + "/" + fingerprint
}

func (c *recordCache) get(userID, fingerprint string) (model.Document, bool) {
	if c == nil {
		return model.Document{}, false
	}
	doc, ok := c.lru.Get(cacheKey(userID, fingerprint))
	if ok {
		recordCacheTotal.WithLabelValues("hit").Inc()
	} else {
		recordCacheTotal.WithLabelValues("miss").Inc()
	}
	return doc, ok
}

func (c *recordCache) add(doc model.Document) {
	if c == nil {
		return
	}
	c.lru.Add(cacheKey(doc.UserID, doc.Fingerprint), doc)
}

func (c *recordCache) remove(userID, fingerprint string) {
	if c == nil {
		return
	}
	c.lru.Remove(cacheKey(userID, fingerprint))
}
