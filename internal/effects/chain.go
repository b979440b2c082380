package effects

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
)

// Spec is the serialized form of one effect: its kind plus a key/value
// parameter mapping. It is the only representation that crosses a process
// boundary.
type Spec struct {
	Kind   Kind           `json:"kind" mapstructure:"kind"`
	Params map[string]any `json:"params,omitempty" mapstructure:"params"`
}

// Chain is an ordered list of effects applied in sequence.
type Chain []Effect

// Apply renders the chain onto a copy of img.
func (c Chain) Apply(img image.Image) *image.NRGBA {
	out := imaging.Clone(img)
	for _, e := range c {
		out = e.Apply(out)
	}
	return out
}

// Validate checks the parameters of every effect in the chain.
func (c Chain) Validate() error {
	for i, e := range c {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("effect %d: %w", i, err)
		}
	}
	return nil
}

// Specs serializes the chain.
func (c Chain) Specs() ([]Spec, error) {
	specs := make([]Spec, 0, len(c))
	for _, e := range c {
		s, err := Encode(e)
		if err != nil {
			return nil, err
		}
		specs = append(specs, s)
	}
	return specs, nil
}

// MarshalJSON encodes the chain as a list of specs.
func (c Chain) MarshalJSON() ([]byte, error) {
	specs, err := c.Specs()
	if err != nil {
		return nil, err
	}
	return json.Marshal(specs)
}

// UnmarshalJSON decodes a list of specs into typed effects.
func (c *Chain) UnmarshalJSON(data []byte) error {
	var specs []Spec
	if err := json.Unmarshal(data, &specs); err != nil {
		return err
	}
	chain, err := DecodeChain(specs)
	if err != nil {
		return err
	}
	*c = chain
	return nil
}

// Encode converts an effect to its serialized form.
func Encode(e Effect) (Spec, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return Spec{}, fmt.Errorf("failed to encode %s: %w", e.Kind(), err)
	}
	var params map[string]any
	if err := json.Unmarshal(data, &params); err != nil {
		return Spec{}, fmt.Errorf("failed to encode %s: %w", e.Kind(), err)
	}
	return Spec{Kind: e.Kind(), Params: params}, nil
}

// Decode reconstructs a typed effect from its serialized form. Parameters
// missing from the spec keep their defaults; unknown parameters are rejected.
func Decode(s Spec) (Effect, error) {
	var e Effect
	var err error

	switch s.Kind {
	case KindPixelate:
		v := DefaultPixelate()
		err = decodeParams(s.Params, &v)
		e = v
	case KindGrayscale:
		v := DefaultGrayscale()
		err = decodeParams(s.Params, &v)
		e = v
	case KindBlur:
		v := DefaultBlur()
		err = decodeParams(s.Params, &v)
		e = v
	default:
		return nil, fmt.Errorf("unknown effect kind %q", s.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid %s parameters: %w", s.Kind, err)
	}

	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

func decodeParams(params map[string]any, dst any) error {
	if len(params) == 0 {
		return nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// DecodeChain reconstructs a chain from its serialized form.
func DecodeChain(specs []Spec) (Chain, error) {
	chain := make(Chain, 0, len(specs))
	for i, s := range specs {
		e, err := Decode(s)
		if err != nil {
			return nil, fmt.Errorf("effect %d: %w", i, err)
		}
		chain = append(chain, e)
	}
	return chain, nil
}

// Parse reads the command-line form of an effect, "kind" or
// "kind:key=value,key=value", e.g. "blur:radius=3".
func Parse(s string) (Effect, error) {
	kind, rest, _ := strings.Cut(strings.TrimSpace(s), ":")
	spec := Spec{Kind: Kind(strings.ToLower(kind))}

	if rest != "" {
		spec.Params = make(map[string]any)
		for _, pair := range strings.Split(rest, ",") {
			key, value, ok := strings.Cut(pair, "=")
			if !ok || key == "" {
				return nil, fmt.Errorf("malformed effect parameter %q in %q", pair, s)
			}
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				spec.Params[key] = f
			} else {
				spec.Params[key] = value
			}
		}
	}

	return Decode(spec)
}

// ParseAll parses every command-line effect in order.
func ParseAll(values []string) (Chain, error) {
	chain := make(Chain, 0, len(values))
	for _, v := range values {
		e, err := Parse(v)
		if err != nil {
			return nil, err
		}
		chain = append(chain, e)
	}
	return chain, nil
}
