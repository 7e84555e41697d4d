package redis

import (
	"context"
	"reflect"

	"github.com/redis/go-redis/v9"
)

// hSetStruct writes every field of value under its redis tag. Nil pointer
// fields are skipped.
func (r repo) hSetStruct(ctx context.Context, c redis.Pipeliner, key string, value interface{}) {
	v := reflect.ValueOf(value)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	fields := make(map[string]interface{}, v.NumField())
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		tag := t.Field(i).Tag.Get("redis")
		if tag == "" || tag == "-" {
			continue
		}

		if field.Kind() == reflect.Ptr {
			if field.IsNil() {
				continue
			}
			fields[tag] = field.Elem().Interface()
		} else {
			fields[tag] = field.Interface()
		}
	}

	c.HSet(ctx, key, fields)
}

// expireRoom refreshes the expiry of every key of the room record, so an
// active room never loses its marker or presence set.
func (r repo) expireRoom(ctx context.Context, c redis.Pipeliner, roomId string) {
	for _, key := range r.roomKeys(roomId) {
		c.Expire(ctx, key, r.expireDuration)
	}
}

func (r repo) executePipe(ctx context.Context, pipe redis.Pipeliner) error {
	cmds, err := pipe.Exec(ctx)
	if err != nil {
		for _, cmd := range cmds {
			if err := cmd.Err(); err != nil {
				return err
			}
		}

		return err
	}

	return nil
}

func (r repo) boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
