package orchestrator

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Outputs 记录每个智能体的输出，JSON 编码时保持写入顺序。
type Outputs struct {
	keys   []string
	values map[string]string
}

// Set 写入一条输出；键已存在时覆盖值但不改变顺序。
func (o *Outputs) Set(key, value string) {
	if o.values == nil {
		o.values = make(map[string]string)
	}
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = value
}

// Get 返回指定键的输出。
func (o Outputs) Get(key string) (string, bool) {
	v, ok := o.values[key]
	return v, ok
}

// Has 判断键是否存在。
func (o Outputs) Has(key string) bool {
	_, ok := o.values[key]
	return ok
}

// Keys 按写入顺序返回所有键。
func (o Outputs) Keys() []string {
	return append([]string(nil), o.keys...)
}

// Len 返回输出条数。
func (o Outputs) Len() int {
	return len(o.keys)
}

// MarshalJSON 按写入顺序输出 JSON 对象。
func (o Outputs) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(o.values[key])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON 解析 JSON 对象并保留键的出现顺序。
func (o *Outputs) UnmarshalJSON(data []byte) error {
	*o = Outputs{}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("outputs 必须是 JSON 对象")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("outputs 键必须是字符串")
		}
		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("outputs[%s]: %w", key, err)
		}
		o.Set(key, value)
	}
	_, err = dec.Token()
	return err
}
