package algos

import (
	"crypto/ecdh"
	"crypto/rand"
	"slices"

	"github.com/Scille/parsec-cloud-sub013/internal/utils"
)

const (
	CURVE_X25519 = "X25519"
	CURVE_P256   = "P256"
	CURVE_P384   = "P384"
	CURVE_P521   = "P521"
)

// Curve embeds ecdh.Curve and records its key & shared secret sizes.
type Curve struct {
	ecdh.Curve
	name        string
	privkeySize int
	pubkeySize  int
	dhsecSize   int
}

// Name returns the name the Curve was registered with.
func (self Curve) Name() string {
	return self.name
}

// PrivateKeyLen returns byte length of Curve PrivateKey
func (self Curve) PrivateKeyLen() int {
	return self.privkeySize
}

// PublicKeyLen returns byte length of uncompressed form of Curve PublicKey
func (self Curve) PublicKeyLen() int {
	return self.pubkeySize
}

// DHLen returns byte length of Diffie-Hellmann shared secret
func (self Curve) DHLen() int {
	return self.dhsecSize
}

// GenerateKey returns a fresh ephemeral keypair drawn from the OS entropy source.
func (self Curve) GenerateKey() (*ecdh.PrivateKey, error) {
	pk, err := self.Curve.GenerateKey(rand.Reader)
	return pk, wrapError(err, "failed generating %s key", self.name)
}

// DH computes the Diffie-Hellmann shared secret of privkey and the encoded peer public key.
// It errors if peer is not a valid public key for the Curve.
func (self Curve) DH(privkey *ecdh.PrivateKey, peer []byte) ([]byte, error) {
	if len(peer) != self.pubkeySize {
		return nil, newError("invalid %s public key size %d", self.name, len(peer))
	}
	pubkey, err := self.Curve.NewPublicKey(peer)
	if nil != err {
		return nil, wrapError(err, "invalid %s public key", self.name)
	}
	dhsec, err := privkey.ECDH(pubkey)
	if nil != err {
		return nil, wrapError(err, "failed %s ECDH", self.name)
	}
	return dhsec, nil
}

var curveRegistry *utils.Registry[string, Curve]

// MustRegisterCurve adds curve to the Curve registry. It panics if name is already in use or curve is invalid.
func MustRegisterCurve(name string, curve ecdh.Curve, privkeySize, pubkeySize, dhsecSize int) {
	err := RegisterCurve(name, curve, privkeySize, pubkeySize, dhsecSize)
	if nil != err {
		panic(err)
	}
}

// RegisterCurve adds curve to the Curve registry. It errors if name is already in use or curve is invalid.
func RegisterCurve(name string, curve ecdh.Curve, privkeySize, pubkeySize, dhsecSize int) error {
	if nil == curve {
		return newError("nil curve can not be registered")
	}
	if privkeySize <= 0 || pubkeySize <= 0 || dhsecSize <= 0 {
		return newError("invalid sizes for Curve %s", name)
	}
	regcurve := Curve{
		Curve:       curve,
		name:        name,
		privkeySize: privkeySize,
		pubkeySize:  pubkeySize,
		dhsecSize:   dhsecSize,
	}
	return wrapError(
		utils.RegistrySet(curveRegistry, name, regcurve),
		"failed registering Curve algorithm, %s",
		name,
	)
}

// GetCurve loads Curve implementation from the registry. It errors if no curve was registered with name.
func GetCurve(name string) (Curve, error) {
	curve, found := utils.RegistryGet(curveRegistry, name)
	if !found {
		return curve, newError("unsupported Curve algorithm, %s", name)
	}
	return curve, nil
}

// ListCurves returns the sorted names of the registered curves.
func ListCurves() []string {
	curveIdx := utils.RegistryEntries(curveRegistry)
	rv := make([]string, 0, len(curveIdx))
	for name := range curveIdx {
		rv = append(rv, name)
	}
	slices.Sort(rv)
	return rv
}

func init() {
	curveRegistry = utils.NewRegistry[string, Curve]()
	MustRegisterCurve(CURVE_X25519, ecdh.X25519(), 32, 32, 32)
	MustRegisterCurve(CURVE_P256, ecdh.P256(), 32, 65, 32)
	MustRegisterCurve(CURVE_P384, ecdh.P384(), 48, 97, 48)
	MustRegisterCurve(CURVE_P521, ecdh.P521(), 66, 133, 66)
}
