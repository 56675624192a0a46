// Package stream 处理 JSONL 事件流的读写：
// 按字节偏移增量读取新行，追加写入时保证单行完整落盘。
package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("module", "stream")

// ReadNew 从 offset 开始读取 path 中所有已完整落盘的行。
// 返回解析成功的记录、新的偏移量和被跳过的坏行数。
//
// 约定：
//   - 文件不存在视为空流，偏移不变
//   - 文件长度小于 offset 说明被截断重建，偏移归零重读
//   - 末尾没有换行符的半行不消费，偏移停在它之前
//   - 空行和非法 JSON 行跳过但偏移照常前进
func ReadNew(path string, offset int64) ([]map[string]interface{}, int64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, offset, 0, nil
		}
		return nil, offset, 0, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, offset, 0, err
	}
	if st.Size() < offset {
		log.Warnf("文件被截断重建，偏移归零: path=%s size=%d cursor=%d", path, st.Size(), offset)
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, 0, err
	}

	var (
		records []map[string]interface{}
		skipped int
	)
	r := bufio.NewReaderSize(f, 256*1024)
	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			// 半行留给下一轮，偏移不前进
			if err == io.EOF {
				break
			}
			return records, offset, skipped, err
		}
		offset += int64(len(line))

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var obj map[string]interface{}
		if err := json.Unmarshal(line, &obj); err != nil {
			skipped++
			continue
		}
		records = append(records, obj)
	}
	return records, offset, skipped, nil
}

// AppendLines 把一批对象逐行序列化后追加到 path，最后 fsync。
// 游标只有在这批数据确定落盘之后才允许前进。
func AppendLines(path string, items []interface{}) error {
	if len(items) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, item := range items {
		b, err := json.Marshal(item)
		if err != nil {
			return err
		}
		if _, err := w.Write(b); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

// AppendLine 追加单个对象
func AppendLine(path string, item interface{}) error {
	return AppendLines(path, []interface{}{item})
}

// CountLines 统计 path 中能解析为 JSON 对象的行数。
// 完整性校验用：流和索引的行数必须一致。
func CountLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var obj map[string]interface{}
		if err := json.Unmarshal(line, &obj); err != nil {
			continue
		}
		n++
	}
	return n, sc.Err()
}
