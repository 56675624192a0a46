package stream

import (
	"time"

	"github.com/flashbot/flashback/pkg/persistence"
)

// Cursor 记录消费进度：在源文件上的字节偏移
type Cursor struct {
	Offset    int64 `json:"offset"`
	UpdatedMs int64 `json:"updated_ms"`
}

// LoadCursor 读取游标，文件缺失或损坏都从 0 开始
func LoadCursor(path string) Cursor {
	var c Cursor
	store := persistence.NewJSONFileStore(path)
	if err := store.Load(&c); err != nil {
		if err != persistence.ErrNotExists {
			log.Warnf("游标文件损坏，从头重读: path=%s err=%v", path, err)
		}
		return Cursor{}
	}
	if c.Offset < 0 {
		c.Offset = 0
	}
	return c
}

// SaveCursor 原子写入游标
func SaveCursor(path string, offset int64) error {
	c := Cursor{
		Offset:    offset,
		UpdatedMs: time.Now().UnixMilli(),
	}
	return persistence.NewJSONFileStore(path).Save(&c)
}
