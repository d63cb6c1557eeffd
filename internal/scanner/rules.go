package scanner

import (
	"regexp"

	cdx "github.com/CycloneDX/cyclonedx-go"
)

// rule matches one cryptographic API call per source line. When the pattern
// captures a group, the capture names the algorithm; otherwise the rule name
// is used.
type rule struct {
	re        *regexp.Regexp
	name      string
	primitive cdx.CryptoPrimitive
}

var javaRules = []rule{
	{
		re:        regexp.MustCompile(`MessageDigest\.getInstance\(\s*"([^"]+)"`),
		name:      "MessageDigest",
		primitive: cdx.CryptoPrimitiveHash,
	},
	{
		re:        regexp.MustCompile(`Cipher\.getInstance\(\s*"([^"]+)"`),
		name:      "Cipher",
		primitive: cdx.CryptoPrimitiveBlockCipher,
	},
	{
		re:        regexp.MustCompile(`Mac\.getInstance\(\s*"([^"]+)"`),
		name:      "Mac",
		primitive: cdx.CryptoPrimitiveMAC,
	},
	{
		re:        regexp.MustCompile(`Signature\.getInstance\(\s*"([^"]+)"`),
		name:      "Signature",
		primitive: cdx.CryptoPrimitiveSignature,
	},
	{
		re:        regexp.MustCompile(`KeyPairGenerator\.getInstance\(\s*"([^"]+)"`),
		name:      "KeyPairGenerator",
		primitive: cdx.CryptoPrimitivePKE,
	},
	{
		re:        regexp.MustCompile(`KeyAgreement\.getInstance\(\s*"([^"]+)"`),
		name:      "KeyAgreement",
		primitive: cdx.CryptoPrimitiveKeyAgree,
	},
	{
		re:        regexp.MustCompile(`KeyGenerator\.getInstance\(\s*"([^"]+)"`),
		name:      "KeyGenerator",
		primitive: cdx.CryptoPrimitiveOther,
	},
	{
		re:        regexp.MustCompile(`SecretKeyFactory\.getInstance\(\s*"([^"]+)"`),
		name:      "SecretKeyFactory",
		primitive: cdx.CryptoPrimitiveKDF,
	},
	{
		re:        regexp.MustCompile(`new\s+SecureRandom\b`),
		name:      "SecureRandom",
		primitive: cdx.CryptoPrimitiveDRBG,
	},
}

var pythonRules = []rule{
	{
		re:        regexp.MustCompile(`hashlib\.(md5|sha1|sha224|sha256|sha384|sha512|sha3_\d+|blake2[bs])\(`),
		name:      "hashlib",
		primitive: cdx.CryptoPrimitiveHash,
	},
	{
		re:        regexp.MustCompile(`hashlib\.new\(\s*["']([^"']+)["']`),
		name:      "hashlib",
		primitive: cdx.CryptoPrimitiveHash,
	},
	{
		re:        regexp.MustCompile(`hmac\.new\(`),
		name:      "hmac",
		primitive: cdx.CryptoPrimitiveMAC,
	},
	{
		re:        regexp.MustCompile(`from\s+cryptography\.hazmat\.primitives\.ciphers\b`),
		name:      "cryptography.ciphers",
		primitive: cdx.CryptoPrimitiveBlockCipher,
	},
	{
		re:        regexp.MustCompile(`\b(?:aead\.)?(AESGCM|AESCCM|ChaCha20Poly1305)\(`),
		name:      "aead",
		primitive: cdx.CryptoPrimitiveAE,
	},
	{
		re:        regexp.MustCompile(`\brsa\.generate_private_key\(`),
		name:      "RSA",
		primitive: cdx.CryptoPrimitivePKE,
	},
	{
		re:        regexp.MustCompile(`\bec\.generate_private_key\(`),
		name:      "EC",
		primitive: cdx.CryptoPrimitivePKE,
	},
	{
		re:        regexp.MustCompile(`from\s+Crypto\.Cipher\s+import\s+(\w+)`),
		name:      "Crypto.Cipher",
		primitive: cdx.CryptoPrimitiveBlockCipher,
	},
	{
		re:        regexp.MustCompile(`from\s+Crypto\.Hash\s+import\s+(\w+)`),
		name:      "Crypto.Hash",
		primitive: cdx.CryptoPrimitiveHash,
	},
	{
		re:        regexp.MustCompile(`\bssl\.create_default_context\(`),
		name:      "TLS",
		primitive: cdx.CryptoPrimitiveOther,
	},
}
