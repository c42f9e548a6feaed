package cardgateway

import (
	"crypto/hmac"
	"encoding/base64"
	"strings"

	"github.com/flaboy/aira-splitpay/pkg/extensions/payment/utils"
)

// Signer 卡网关的签名方案。网关文档中的派生密钥算法与现网实现存在差异，
// 这里只依赖 Sign/Verify 这对契约，具体算法可以按渠道测试凭证替换。
type Signer interface {
	Sign(merchantParameters, orderRef string) string
	Verify(merchantParameters, orderRef, signature string) bool
}

// HMACSigner 每个订单用 HMAC-SHA256(secret, orderRef) 派生密钥，
// 再对 base64 编码后的参数做 HMAC-SHA256
type HMACSigner struct {
	Secret []byte
}

func NewHMACSigner(secret string) *HMACSigner {
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil || len(key) == 0 {
		key = []byte(secret)
	}
	return &HMACSigner{Secret: key}
}

func (s *HMACSigner) mac(merchantParameters, orderRef string) []byte {
	orderKey := utils.HMAC256(s.Secret, []byte(orderRef))
	return utils.HMAC256(orderKey, []byte(merchantParameters))
}

func (s *HMACSigner) Sign(merchantParameters, orderRef string) string {
	return base64.StdEncoding.EncodeToString(s.mac(merchantParameters, orderRef))
}

// Verify 通知中的签名可能是 URL-safe base64，两种都接受
func (s *HMACSigner) Verify(merchantParameters, orderRef, signature string) bool {
	got, ok := decodeSignature(signature)
	if !ok {
		return false
	}
	return hmac.Equal(got, s.mac(merchantParameters, orderRef))
}

func decodeSignature(signature string) ([]byte, bool) {
	signature = strings.TrimSpace(signature)
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawURLEncoding, base64.RawStdEncoding} {
		if b, err := enc.DecodeString(signature); err == nil {
			return b, true
		}
	}
	return nil, false
}
