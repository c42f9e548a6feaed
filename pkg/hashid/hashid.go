package hashid

import (
	"fmt"
	"strings"

	"github.com/speps/go-hashids/v2"
)

// Type 一种带前缀的 hashid 编码，例如支付意图的 "pi-"
type Type struct {
	Prefix string
	codec  *hashids.HashID
}

// NewType 创建编码类型，salt 区分不同实体，minLength 为编码部分的最小长度
func NewType(prefix, salt string, minLength int) *Type {
	hd := hashids.NewData()
	hd.Salt = "aira-splitpay:" + salt
	hd.MinLength = minLength
	codec, err := hashids.NewWithData(hd)
	if err != nil {
		panic("invalid hashid config for " + salt + ": " + err.Error())
	}
	return &Type{Prefix: prefix, codec: codec}
}

func Encode(t *Type, id uint) string {
	s, err := t.codec.EncodeInt64([]int64{int64(id)})
	if err != nil {
		return ""
	}
	return t.Prefix + s
}

func Decode(t *Type, s string) (uint, error) {
	if !strings.HasPrefix(s, t.Prefix) {
		return 0, fmt.Errorf("hashid %q does not have prefix %q", s, t.Prefix)
	}
	ids, err := t.codec.DecodeInt64WithError(strings.TrimPrefix(s, t.Prefix))
	if err != nil {
		return 0, err
	}
	if len(ids) != 1 || ids[0] <= 0 {
		return 0, fmt.Errorf("hashid %q is malformed", s)
	}
	return uint(ids[0]), nil
}
