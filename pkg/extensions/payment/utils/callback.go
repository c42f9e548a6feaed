package utils

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/flaboy/aira-splitpay/pkg/hashid"
	"github.com/spf13/cast"
)

var HashIDTypeIntent = hashid.NewType("pi-", "payment_intent", 8)

// DecodeIntentHashID 解码支付意图HashID获取数据库ID
func DecodeIntentHashID(hashID string) (uint, error) {
	return hashid.Decode(HashIDTypeIntent, hashID)
}

// EncodeIntentID 编码数据库ID为HashID
func EncodeIntentID(id uint) string {
	return hashid.Encode(HashIDTypeIntent, id)
}

const orderRefAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewOrderRef 生成 12 位的渠道订单号，前 4 位为数字（卡网关要求）
func NewOrderRef() (string, error) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%04d", time.Now().UnixNano()/int64(time.Millisecond)%10000))
	max := big.NewInt(int64(len(orderRefAlphabet)))
	for i := 0; i < 8; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		sb.WriteByte(orderRefAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

// HMAC256 计算 HMAC-SHA256
func HMAC256(key, message []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return mac.Sum(nil)
}

// Field 大小写不敏感地读取回调字段，不同渠道或版本的字段命名不一致
func Field(data map[string]interface{}, names ...string) string {
	for _, name := range names {
		if v, ok := data[name]; ok && v != nil {
			return cast.ToString(v)
		}
	}
	for key, v := range data {
		for _, name := range names {
			if strings.EqualFold(key, name) && v != nil {
				return cast.ToString(v)
			}
		}
	}
	return ""
}

// MinorUnits 把 "0000123" 或 123 这类字段解析为整数，忽略前导零
func MinorUnits(raw string) (int64, error) {
	trimmed := strings.TrimLeft(strings.TrimSpace(raw), "0")
	if trimmed == "" {
		return 0, nil
	}
	return cast.ToInt64E(trimmed)
}
