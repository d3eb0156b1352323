package redisx

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Message: satu record hasil claim dari stream. ID adalah ack token.
type Message struct {
	ID     string
	Values map[string]string
}

// Streams membungkus operasi Redis Streams yg dipakai semua worker:
// ensure group -> claim -> process -> ack. Delivery at-least-once; entry
// yg di-claim tapi belum di-ack akan di-redeliver lewat Reclaim.
type Streams struct {
	RDB *redis.Client
}

// EnsureGroup: bikin consumer group di offset awal stream (MKSTREAM kalau
// stream belum ada). Group yg sudah ada (BUSYGROUP) bukan error.
func (s *Streams) EnsureGroup(ctx context.Context, stream, group string) error {
	err := s.RDB.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", group, stream, err)
	}
	return nil
}

// Claim: blocking read entry baru utk consumer ini, maksimal count,
// nunggu paling lama block. Tidak ada entry -> nil, nil.
func (s *Streams) Claim(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Message, error) {
	res, err := s.RDB.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []Message
	for _, st := range res {
		for _, m := range st.Messages {
			out = append(out, toMessage(m))
		}
	}
	return out, nil
}

// Reclaim: ambil alih pending entry milik consumer lain yg idle lebih lama
// dari minIdle (consumer-nya mati sebelum ack). Ini yg bikin at-least-once
// beneran jalan lintas replica.
func (s *Streams) Reclaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]Message, error) {
	msgs, _, err := s.RDB.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessage(m))
	}
	return out, nil
}

// Ack: tandai entry selesai diproses. Panggil HANYA setelah semua side
// effect downstream (append/commit) sukses.
func (s *Streams) Ack(ctx context.Context, stream, group string, ids ...string) error {
	return s.RDB.XAck(ctx, stream, group, ids...).Err()
}

// Append: XADD record flat ke stream, id di-assign Redis (monoton naik).
func (s *Streams) Append(ctx context.Context, stream string, values map[string]any) (string, error) {
	return s.RDB.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: values}).Result()
}

func toMessage(m redis.XMessage) Message {
	values := make(map[string]string, len(m.Values))
	for k, v := range m.Values {
		if sv, ok := v.(string); ok {
			values[k] = sv
		} else {
			values[k] = fmt.Sprint(v)
		}
	}
	return Message{ID: m.ID, Values: values}
}
