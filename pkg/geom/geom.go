// Package geom detects and converts geometry wire encodings.
//
// The remote store and local frames exchange geometries in six wire forms:
// raw WKB, hex-encoded WKB (bytes or string), SRID-prefixed extended hex WKB,
// WKT text, and SRID-prefixed extended WKT. Every form decodes to an
// orb.Geometry, the only representation the transfer layer operates on, and
// uploads always re-encode as "SRID=4326;<WKT>".
package geom

import (
	"encoding/hex"
	"regexp"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/ewkb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/encoding/wkt"

	"github.com/geopump/geopump/pkg/geoperrors"
)

// Encoding is the detected wire form of a geometry value.
type Encoding string

const (
	// EncodingGeometry is an already-canonical orb.Geometry value.
	EncodingGeometry Encoding = "geometry"
	// EncodingWKB is raw binary WKB.
	EncodingWKB Encoding = "wkb"
	// EncodingHexWKB is hex-encoded WKB carried in a byte slice.
	EncodingHexWKB Encoding = "wkb-hex"
	// EncodingHexASCII is hex-encoded WKB carried in a string.
	EncodingHexASCII Encoding = "wkb-hex-ascii"
	// EncodingEWKBHexASCII is an "SRID=<n>;"-prefixed hex WKB string.
	EncodingEWKBHexASCII Encoding = "ewkb-hex-ascii"
	// EncodingWKT is WKT text.
	EncodingWKT Encoding = "wkt"
	// EncodingEWKT is an "SRID=<n>;"-prefixed WKT string.
	EncodingEWKT Encoding = "ewkt"
)

// SRID is the spatial reference used for all uploaded geometries.
const SRID = 4326

var (
	sridPrefixRe = regexp.MustCompile(`^SRID=\d+;`)
	hexRe        = regexp.MustCompile(`^[0-9a-fA-F]+$`)
)

// Detect classifies a geometry value into one of the seven encodings by
// structural inspection. Every orb.Geometry, []byte or string input
// classifies; anything else is an encoding error.
func Detect(value interface{}) (Encoding, error) {
	switch v := value.(type) {
	case orb.Geometry:
		return EncodingGeometry, nil
	case []byte:
		if _, err := hex.DecodeString(string(v)); err == nil {
			return EncodingHexWKB, nil
		}
		return EncodingWKB, nil
	case string:
		body := stripSRID(v)
		extended := len(body) != len(v)
		if hexRe.MatchString(body) {
			if extended {
				return EncodingEWKBHexASCII, nil
			}
			return EncodingHexASCII, nil
		}
		if extended {
			return EncodingEWKT, nil
		}
		return EncodingWKT, nil
	default:
		return "", geoperrors.Newf(geoperrors.ErrorTypeEncoding,
			"wrong input geometry: %T is not a geometry, bytes or string", value)
	}
}

// Decode converts a value of a known encoding into an orb.Geometry.
// An unrecognized encoding tag is an encoding error.
func Decode(value interface{}, enc Encoding) (orb.Geometry, error) {
	switch enc {
	case EncodingGeometry:
		g, ok := value.(orb.Geometry)
		if !ok {
			return nil, geoperrors.Newf(geoperrors.ErrorTypeEncoding,
				"value %T does not match encoding %q", value, enc)
		}
		return g, nil

	case EncodingWKB:
		data, err := asBytes(value, enc)
		if err != nil {
			return nil, err
		}
		return unmarshalWKB(data)

	case EncodingHexWKB:
		data, err := asBytes(value, enc)
		if err != nil {
			return nil, err
		}
		raw, err := hex.DecodeString(string(data))
		if err != nil {
			return nil, geoperrors.Wrap(err, geoperrors.ErrorTypeEncoding, "invalid hex WKB")
		}
		return unmarshalWKB(raw)

	case EncodingHexASCII, EncodingEWKBHexASCII:
		s, err := asString(value, enc)
		if err != nil {
			return nil, err
		}
		raw, err := hex.DecodeString(stripSRID(s))
		if err != nil {
			return nil, geoperrors.Wrap(err, geoperrors.ErrorTypeEncoding, "invalid hex WKB")
		}
		return unmarshalWKB(raw)

	case EncodingWKT, EncodingEWKT:
		s, err := asString(value, enc)
		if err != nil {
			return nil, err
		}
		g, err := wkt.Unmarshal(stripSRID(s))
		if err != nil {
			return nil, geoperrors.Wrap(err, geoperrors.ErrorTypeEncoding, "invalid WKT")
		}
		return g, nil

	default:
		return nil, geoperrors.Newf(geoperrors.ErrorTypeEncoding,
			"encoding type %q not supported", enc)
	}
}

// DecodeAny detects the encoding of a value and decodes it.
func DecodeAny(value interface{}) (orb.Geometry, error) {
	enc, err := Detect(value)
	if err != nil {
		return nil, err
	}
	return Decode(value, enc)
}

// Encode renders a geometry in the upload wire form, "SRID=4326;<WKT>".
// A nil geometry encodes to the empty string, never a malformed fragment.
func Encode(g orb.Geometry) string {
	if g == nil {
		return ""
	}
	return "SRID=4326;" + wkt.MarshalString(g)
}

// unmarshalWKB decodes binary WKB, falling back to extended WKB for payloads
// that carry an embedded SRID flag.
func unmarshalWKB(data []byte) (orb.Geometry, error) {
	g, err := wkb.Unmarshal(data)
	if err == nil {
		return g, nil
	}
	g, _, eerr := ewkb.Unmarshal(data)
	if eerr == nil {
		return g, nil
	}
	return nil, geoperrors.Wrap(err, geoperrors.ErrorTypeEncoding, "invalid WKB")
}

func stripSRID(s string) string {
	return sridPrefixRe.ReplaceAllString(s, "")
}

func asBytes(value interface{}, enc Encoding) ([]byte, error) {
	b, ok := value.([]byte)
	if !ok {
		return nil, geoperrors.Newf(geoperrors.ErrorTypeEncoding,
			"value %T does not match encoding %q", value, enc)
	}
	return b, nil
}

func asString(value interface{}, enc Encoding) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", geoperrors.Newf(geoperrors.ErrorTypeEncoding,
			"value %T does not match encoding %q", value, enc)
	}
	return s, nil
}
