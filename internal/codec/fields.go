package codec

// fields.go: lectura tolerante de objetos JSON sin tipar.
//
// El upstream mezcla números JSON, strings decimales y cantidades hex 0x.
// Cada helper devuelve (valor, ok) y nunca propaga NaN ni valores a medias.

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

type fields map[string]json.RawMessage

// object decodifica raw como objeto; nil si no lo es.
func object(raw json.RawMessage) fields {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil
	}
	var f fields
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil
	}
	return f
}

// array decodifica raw como array; nil si no lo es.
func array(raw json.RawMessage) []json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil
	}
	var out []json.RawMessage
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func (f fields) raw(key string) (json.RawMessage, bool) {
	if f == nil {
		return nil, false
	}
	raw, ok := f[key]
	if !ok {
		return nil, false
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, false
	}
	return raw, true
}

func (f fields) object(key string) fields {
	raw, ok := f.raw(key)
	if !ok {
		return nil
	}
	return object(raw)
}

func (f fields) array(key string) []json.RawMessage {
	raw, ok := f.raw(key)
	if !ok {
		return nil
	}
	return array(raw)
}

// str devuelve el string de key; números se aceptan tal cual vienen.
func (f fields) str(key string) string {
	raw, ok := f.raw(key)
	if !ok {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return ""
		}
		return strings.TrimSpace(s)
	}
	var n json.Number
	if json.Unmarshal(raw, &n) != nil {
		return ""
	}
	return n.String()
}

// integer acepta número JSON entero, string decimal o cantidad hex 0x.
func (f fields) integer(key string) (int64, bool) {
	raw, ok := f.raw(key)
	if !ok {
		return 0, false
	}
	if raw[0] == '"' {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return 0, false
		}
		return parseIntString(s)
	}
	var n json.Number
	if json.Unmarshal(raw, &n) != nil {
		return 0, false
	}
	if i, err := n.Int64(); err == nil {
		return i, true
	}
	fl, err := n.Float64()
	if err != nil || fl != math.Trunc(fl) || math.Abs(fl) > math.MaxInt64/2 {
		return 0, false
	}
	return int64(fl), true
}

// unsigned es integer sin signo; negativos no son válidos.
func (f fields) unsigned(key string) (uint64, bool) {
	raw, ok := f.raw(key)
	if !ok {
		return 0, false
	}
	if raw[0] == '"' {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return 0, false
		}
		s = strings.TrimSpace(s)
		if hasHexPrefix(s) {
			v, err := strconv.ParseUint(s[2:], 16, 64)
			return v, err == nil
		}
		v, err := strconv.ParseUint(s, 10, 64)
		return v, err == nil
	}
	i, ok := f.integer(key)
	if !ok || i < 0 {
		return 0, false
	}
	return uint64(i), true
}

// number acepta número o string numérico; NaN/Inf se tratan como ausentes.
func (f fields) number(key string) (float64, bool) {
	raw, ok := f.raw(key)
	if !ok {
		return 0, false
	}
	var s string
	if raw[0] == '"' {
		if json.Unmarshal(raw, &s) != nil {
			return 0, false
		}
	} else {
		var n json.Number
		if json.Unmarshal(raw, &n) != nil {
			return 0, false
		}
		s = n.String()
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// boolean sólo acepta booleanos JSON; cualquier otra cosa es false.
func (f fields) boolean(key string) bool {
	raw, ok := f.raw(key)
	if !ok {
		return false
	}
	var b bool
	if json.Unmarshal(raw, &b) != nil {
		return false
	}
	return b
}

// stringList devuelve los elementos string de un array; el resto se ignora.
func (f fields) stringList(key string) []string {
	items := f.array(key)
	if len(items) == 0 {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		var s string
		if json.Unmarshal(it, &s) != nil {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func parseIntString(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if hasHexPrefix(s) {
		v, err := strconv.ParseInt(s[2:], 16, 64)
		return v, err == nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	return v, err == nil
}

func hasHexPrefix(s string) bool {
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}
