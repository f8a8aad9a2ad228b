package guardrail

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadPolicyFile overlays a YAML policy file onto base.
// KnownFields(true)로 오타/미사용 필드 즉시 실패
func LoadPolicyFile(path string, base Policy) (Policy, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, nil, fmt.Errorf("read policy file: %w", err)
	}

	p, err := ParsePolicy(data, base)
	if err != nil {
		return Policy{}, data, fmt.Errorf("policy file %s: %w", path, err)
	}
	return p, data, nil
}

// ParsePolicy decodes YAML onto a copy of base and validates the result
func ParsePolicy(data []byte, base Policy) (Policy, error) {
	p := base
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true) // 알 수 없는 필드 발견 시 에러 반환
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return Policy{}, fmt.Errorf("decode: %w", err)
	}

	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Hash generates SHA256 hash from Policy (canonical JSON)
// 주의: map 대신 struct 사용으로 해시 재현성 보장
func Hash(p Policy) (string, error) {
	jsonBytes, err := json.Marshal(p)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(jsonBytes)
	return hex.EncodeToString(sum[:]), nil
}
