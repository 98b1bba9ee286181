// Package session 按日期为用户生成会话 key。
package session

import (
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Deriver 把 (userID, 时间点) 映射为会话 key，参考时区内同一日历日的时间点得到同一个 key。
type Deriver struct {
	loc *time.Location
}

// NewDeriver 创建绑定 loc 的 Deriver，loc 为 nil 时使用 UTC。
func NewDeriver(loc *time.Location) Deriver {
	if loc == nil {
		loc = time.UTC
	}
	return Deriver{loc: loc}
}

// NewDeriverForZone 解析 IANA 时区名，例如 "Asia/Taipei"；空字符串视为 UTC。
func NewDeriverForZone(name string) (Deriver, error) {
	if strings.TrimSpace(name) == "" {
		return NewDeriver(time.UTC), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return Deriver{}, err
	}
	return NewDeriver(loc), nil
}

// Key 返回 "<userID>_<YYYY-MM-DD>"。
func (d Deriver) Key(userID string, now time.Time) string {
	loc := d.loc
	if loc == nil {
		loc = time.UTC
	}
	return userID + "_" + now.In(loc).Format(dateLayout)
}

func (d Deriver) Location() *time.Location {
	if d.loc == nil {
		return time.UTC
	}
	return d.loc
}

// DeriveKey 按 UTC 日期生成 key。
func DeriveKey(userID string, now time.Time) string {
	return NewDeriver(time.UTC).Key(userID, now)
}
