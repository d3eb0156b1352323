package redisx

import (
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 2 * time.Second,
		// ReadTimeout harus lebih besar dari BLOCK di XREADGROUP,
		// kalau tidak claim yg nunggu dianggap timeout.
		ReadTimeout: 5 * time.Second,
	})
}
