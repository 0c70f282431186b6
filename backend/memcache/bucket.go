package memcache

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/ceyewan/queuekit/backend"
	"github.com/ceyewan/queuekit/clog"
)

// bucketRetention 成员索引的保留时间（30 天），不受实例过期时间影响
const bucketRetention int32 = 60 * 60 * 24 * 30

func (s *Store) bucketKey() string {
	return s.Queue() + ":contents"
}

// readBucket 读取成员索引，格式为 JSON 对象 {"key": true}
func (s *Store) readBucket(c client) (map[string]bool, error) {
	raw, err := s.fetch(c, s.bucketKey())
	if err != nil {
		return nil, err
	}
	members := make(map[string]bool)
	if raw == nil {
		return members, nil
	}
	if err := json.Unmarshal(raw, &members); err != nil {
		s.Logger().Warn("成员索引损坏，重新开始记录", clog.String("bucket", s.bucketKey()), clog.Err(err))
		return make(map[string]bool), nil
	}
	return members, nil
}

func (s *Store) writeBucket(c client, members map[string]bool) error {
	raw, err := json.Marshal(members)
	if err != nil {
		return backend.OperationFailure("unable to encode bucket index", err)
	}
	return s.persist(c, s.bucketKey(), raw, bucketRetention)
}

func (s *Store) addToBucket(c client, key string) error {
	members, err := s.readBucket(c)
	if err != nil {
		return err
	}
	members[key] = true
	return s.writeBucket(c, members)
}

func (s *Store) removeFromBucket(c client, key string) error {
	members, err := s.readBucket(c)
	if err != nil {
		return err
	}
	if _, ok := members[key]; !ok {
		return nil
	}
	delete(members, key)
	return s.writeBucket(c, members)
}

// BucketContents 返回队列成员索引中的键（已排序）
func (s *Store) BucketContents(ctx context.Context) ([]string, error) {
	if err := s.RequireQueue(); err != nil {
		return nil, err
	}
	c, err := s.conn()
	if err != nil {
		return nil, err
	}
	members, err := s.readBucket(c)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(members))
	for k := range members {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
