package samlsp

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"

	"github.com/beevik/etree"
	xrv "github.com/mattermost/xml-roundtrip-validator"

	"github.com/samlx/samlsp/models/core"
)

// maxDecodedMessageSize bounds inflated message sizes to keep a hostile
// payload from exhausting memory.
const maxDecodedMessageSize = 5 * 1024 * 1024

// ParsedResponse is the decoded form of an inbound SAML response. It exists
// only for the duration of one acs/sls call. Raw and Doc hold the decoded
// XML, which signature validation operates on; Response is the unmarshalled
// protocol message.
type ParsedResponse struct {
	Raw      []byte
	Doc      *etree.Document
	Response *core.Response
}

// ParseResponse decodes and parses a SAMLResponse parameter value: base64
// decode, inflate if compressed, round-trip validate the XML, and unmarshal.
// All decode failures surface as ErrMalformedMessage.
//
// Round-trip validation rejects documents that Go's XML decoder would
// silently mutate, which closes the known class of namespace and directive
// smuggling attacks. Inline DTDs and external entities never survive it.
func ParseResponse(raw string) (*ParsedResponse, error) {
	const op = "samlsp.ParseResponse"

	xmlBytes, err := decodeMessage(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlBytes); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrMalformedMessage, err)
	}

	var response core.Response
	if err := xml.Unmarshal(xmlBytes, &response); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrMalformedMessage, err)
	}

	return &ParsedResponse{
		Raw:      xmlBytes,
		Doc:      doc,
		Response: &response,
	}, nil
}

// decodeMessage base64 decodes and decompresses a SAMLRequest/SAMLResponse
// parameter value. The redirect binding uses raw DEFLATE; some stacks wrap it
// in zlib; the POST binding sends the XML uncompressed.
func decodeMessage(raw string) ([]byte, error) {
	if raw == "" {
		return nil, fmt.Errorf("empty message: %w", ErrMalformedMessage)
	}

	compressed, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		compressed, err = base64.URLEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid base64: %w", ErrMalformedMessage)
		}
	}

	xmlBytes, err := inflateRaw(compressed)
	if err != nil {
		if xmlBytes, err = inflateZlib(compressed); err != nil {
			if !looksLikeXML(compressed) {
				return nil, fmt.Errorf("unable to inflate message: %w", ErrMalformedMessage)
			}
			xmlBytes = compressed
		}
	}

	if err := xrv.Validate(bytes.NewReader(xmlBytes)); err != nil {
		return nil, fmt.Errorf("XML failed round-trip validation: %w: %w", ErrMalformedMessage, err)
	}

	return xmlBytes, nil
}

func inflateRaw(b []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(b))
	defer r.Close()
	return readBounded(r)
}

func inflateZlib(b []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return readBounded(r)
}

func readBounded(r io.Reader) ([]byte, error) {
	out, err := io.ReadAll(io.LimitReader(r, maxDecodedMessageSize+1))
	if err != nil {
		return nil, err
	}
	if len(out) > maxDecodedMessageSize {
		return nil, fmt.Errorf("message exceeds %d bytes", maxDecodedMessageSize)
	}
	return out, nil
}

func looksLikeXML(b []byte) bool {
	trimmed := bytes.TrimLeft(b, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '<'
}
