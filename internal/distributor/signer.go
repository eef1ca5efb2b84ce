package distributor

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/ed25519"
)

// Signature 请求体中的 sign 字段
type Signature struct {
	Owner string `json:"owner"`
	Sig   string `json:"sig"`
}

// Signer 采集器身份签名
// 签名为 ed25519(blake2b-256(规范化 JSON)), 编码为 hex(signature || hash)
type Signer struct {
	publicKey string
	secretKey ed25519.PrivateKey
	hashKey   []byte
}

// NewSigner 从 hex 编码的密钥创建签名器
// secretKey 可以是 32 字节种子或 64 字节私钥, publicKey 为空时由私钥推导
func NewSigner(publicKeyHex, secretKeyHex, hashKeyHex string) (*Signer, error) {
	sk, err := hex.DecodeString(strings.TrimPrefix(secretKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode secret key: %w", err)
	}
	var priv ed25519.PrivateKey
	switch len(sk) {
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(sk)
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(sk)
	default:
		return nil, fmt.Errorf("invalid secret key length %d", len(sk))
	}

	derived := hex.EncodeToString(priv.Public().(ed25519.PublicKey))
	pk := strings.ToLower(strings.TrimPrefix(publicKeyHex, "0x"))
	if pk == "" {
		pk = derived
	} else if pk != derived {
		return nil, fmt.Errorf("public key does not match secret key")
	}

	var hashKey []byte
	if hashKeyHex != "" {
		hashKey, err = hex.DecodeString(strings.TrimPrefix(hashKeyHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("decode hash key: %w", err)
		}
	}
	return &Signer{publicKey: pk, secretKey: priv, hashKey: hashKey}, nil
}

// PublicKey 采集器公钥 hex
func (s *Signer) PublicKey() string {
	return s.publicKey
}

// Hash 计算规范化 JSON 的 blake2b-256
func (s *Signer) Hash(body map[string]interface{}) ([]byte, error) {
	canonical, err := canonicalize(body)
	if err != nil {
		return nil, err
	}
	h, err := blake2b.New256(s.hashKey)
	if err != nil {
		return nil, err
	}
	h.Write(canonical)
	return h.Sum(nil), nil
}

// Sign 对请求体签名并写入 sign 字段, 计算摘要时不含 sign
func (s *Signer) Sign(body map[string]interface{}) error {
	delete(body, "sign")
	digest, err := s.Hash(body)
	if err != nil {
		return err
	}
	sig := ed25519.Sign(s.secretKey, digest)
	body["sign"] = Signature{
		Owner: s.publicKey,
		Sig:   hex.EncodeToString(append(sig, digest...)),
	}
	return nil
}

// Verify 校验请求体签名
func (s *Signer) Verify(body map[string]interface{}) bool {
	raw, ok := body["sign"]
	if !ok {
		return false
	}
	var sign Signature
	switch v := raw.(type) {
	case Signature:
		sign = v
	default:
		b, err := json.Marshal(v)
		if err != nil || json.Unmarshal(b, &sign) != nil {
			return false
		}
	}
	pub, err := hex.DecodeString(sign.Owner)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	blob, err := hex.DecodeString(sign.Sig)
	if err != nil || len(blob) != ed25519.SignatureSize+blake2b.Size256 {
		return false
	}

	rest := make(map[string]interface{}, len(body))
	for k, v := range body {
		if k != "sign" {
			rest[k] = v
		}
	}
	digest, err := s.Hash(rest)
	if err != nil || !bytes.Equal(digest, blob[ed25519.SignatureSize:]) {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), digest, blob[:ed25519.SignatureSize])
}

// canonicalize 键排序且不转义 HTML 字符的 JSON
func canonicalize(v interface{}) ([]byte, error) {
	// 先归一化为 map/slice, encoding/json 对 map 键排序
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
