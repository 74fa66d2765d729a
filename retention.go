package main

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"log"
	"os"
	"time"
)

// Retention decides how long uploaded images live and purges expired ones.
type Retention struct {
	store *Store
	log   *log.Logger
	ttl   time.Duration
	every time.Duration
	now   func() time.Time
}

func NewRetention(cfg *Config, store *Store) *Retention {
	return &Retention{
		store: store,
		log:   log.New(os.Stderr, "(retention) ", log.LstdFlags),
		ttl:   time.Duration(cfg.Host.RetentionHours) * time.Hour,
		every: 1 * time.Hour,
		now:   time.Now,
	}
}

// Now is the retention clock in unix seconds.
func (rt *Retention) Now() int64 {
	return rt.now().Unix()
}

func (rt *Retention) Expiry() int64 {
	return rt.now().Add(rt.ttl).Unix()
}

// Run purges expired images now and then every interval until ctx ends.
func (rt *Retention) Run(ctx context.Context) {
	ticker := time.NewTicker(rt.every)
	defer ticker.Stop()
	for {
		rt.purgeExpired()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (rt *Retention) purgeExpired() {
	n, err := rt.store.DeleteBefore(rt.now().Unix())
	if err != nil {
		rt.log.Println("purge failed:", err)
		return
	}
	if n > 0 {
		rt.log.Println("purged", n, "expired images")
	}
}

// contentID names an upload by its bytes so repeats share one URL.
func contentID(body []byte) string {
	sum := md5.Sum(body)
	return hex.EncodeToString(sum[:])
}
