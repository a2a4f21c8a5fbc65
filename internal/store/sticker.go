package store

import (
	"context"

	"github.com/fishroom/fishroom/internal/broker"
)

// StickerCache deduplicates hosted sticker URLs by content hash (md5 of the
// downloaded bytes), so two stickers with identical artwork but different
// source-protocol ids reuse one hosted URL instead of re-uploading twice.
type StickerCache interface {
	Lookup(ctx context.Context, md5Hash string) (url string, ok bool, err error)
	Store(ctx context.Context, md5Hash, url string) error
}

// RedisStickerCache is a broker-backed StickerCache.
type RedisStickerCache struct {
	client broker.Client
	prefix KeyPrefix
}

func NewRedisStickerCache(client broker.Client, prefix KeyPrefix) *RedisStickerCache {
	return &RedisStickerCache{client: client, prefix: prefix}
}

func (s *RedisStickerCache) Lookup(ctx context.Context, md5Hash string) (string, bool, error) {
	v, ok, err := s.client.Get(ctx, s.prefix.sticker(md5Hash))
	return v, ok, err
}

func (s *RedisStickerCache) Store(ctx context.Context, md5Hash, url string) error {
	return s.client.Set(ctx, s.prefix.sticker(md5Hash), url)
}
