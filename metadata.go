package samlsp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	xrv "github.com/mattermost/xml-roundtrip-validator"
	dsigtypes "github.com/russellhaering/goxmldsig/types"

	"github.com/samlx/samlsp/models/core"
	"github.com/samlx/samlsp/models/metadata"
)

const (
	// metadataFetchTimeout bounds the whole metadata refresh round trip.
	metadataFetchTimeout = 5 * time.Second

	maxMetadataSize = 5 * 1024 * 1024
)

type metadataOptions struct {
	wantAssertionsSigned bool
	nameIDFormats        []core.NameIDFormat
	acsServiceBinding    core.ServiceBinding
	additionalACSs       []metadata.Endpoint
	cacheDuration        *metadata.Duration
}

func metadataOptionsDefault(cfg *Config) metadataOptions {
	opts := metadataOptions{
		wantAssertionsSigned: cfg.Security.WantMessagesSigned,
		acsServiceBinding:    core.ServiceBindingHTTPPost,
	}
	if cfg.NameIDFormat != "" {
		opts.nameIDFormats = []core.NameIDFormat{cfg.NameIDFormat}
	}
	return opts
}

func getMetadataOptions(cfg *Config, opt ...Option) metadataOptions {
	opts := metadataOptionsDefault(cfg)
	ApplyOpts(&opts, opt...)
	return opts
}

// InsecureWantAssertionsUnsigned advertises that this SP accepts unsigned
// assertions, regardless of the configured security policy.
func InsecureWantAssertionsUnsigned() Option {
	return func(o interface{}) {
		if o, ok := o.(*metadataOptions); ok {
			o.wantAssertionsSigned = false
		}
	}
}

func WithAdditionalNameIDFormat(format core.NameIDFormat) Option {
	return func(o interface{}) {
		if o, ok := o.(*metadataOptions); ok {
			o.nameIDFormats = append(o.nameIDFormats, format)
		}
	}
}

func WithNameIDFormats(formats []core.NameIDFormat) Option {
	return func(o interface{}) {
		if o, ok := o.(*metadataOptions); ok {
			o.nameIDFormats = formats
		}
	}
}

func WithACSServiceBinding(b core.ServiceBinding) Option {
	return func(o interface{}) {
		if o, ok := o.(*metadataOptions); ok {
			o.acsServiceBinding = b
		}
	}
}

func WithAdditionalACSEndpoint(b core.ServiceBinding, location *url.URL) Option {
	return func(o interface{}) {
		if o, ok := o.(*metadataOptions); ok {
			o.additionalACSs = append(o.additionalACSs, metadata.Endpoint{
				Binding:  b,
				Location: location.String(),
			})
		}
	}
}

// WithCacheDuration sets the cacheDuration attribute on generated metadata.
func WithCacheDuration(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*metadataOptions); ok {
			md := metadata.Duration(d)
			o.cacheDuration = &md
		}
	}
}

// CreateMetadata creates the metadata document for the service provider,
// advertising the ACS endpoint, the single logout endpoint when configured,
// and the SP certificate for signing and encryption.
//
// Options:
// - InsecureWantAssertionsUnsigned
// - WithAdditionalNameIDFormat
// - WithNameIDFormats
// - WithACSServiceBinding
// - WithAdditionalACSEndpoint
// - WithCacheDuration
func (sp *ServiceProvider) CreateMetadata(opt ...Option) *metadata.EntityDescriptorSPSSO {
	validUntil := sp.cfg.ValidUntil()

	opts := getMetadataOptions(sp.cfg, opt...)

	spsso := metadata.EntityDescriptorSPSSO{}
	spsso.EntityID = sp.cfg.EntityID.String()
	spsso.ValidUntil = &validUntil
	spsso.CacheDuration = opts.cacheDuration

	spssoDescriptor := &metadata.SPSSODescriptor{}
	spssoDescriptor.ValidUntil = &validUntil
	spssoDescriptor.ProtocolSupportEnumeration = metadata.ProtocolSupportEnumerationProtocol
	spssoDescriptor.NameIDFormat = opts.nameIDFormats
	spssoDescriptor.AuthnRequestsSigned = sp.cfg.Security.SignAuthnRequests
	spssoDescriptor.WantAssertionsSigned = opts.wantAssertionsSigned
	spssoDescriptor.KeyDescriptor = sp.keyDescriptors()
	spssoDescriptor.AssertionConsumerService = []metadata.IndexedEndpoint{
		{
			Endpoint: metadata.Endpoint{
				Binding:  opts.acsServiceBinding,
				Location: sp.cfg.AssertionConsumerServiceURL.String(),
			},
			Index:     1,
			IsDefault: true,
		},
	}

	for i, a := range opts.additionalACSs {
		spssoDescriptor.AssertionConsumerService = append(
			spssoDescriptor.AssertionConsumerService,
			metadata.IndexedEndpoint{
				Endpoint: a,
				Index:    i + 2, // The first index is already taken.
			},
		)
	}

	if sp.cfg.SingleLogoutServiceURL != nil {
		spssoDescriptor.SingleLogoutService = []metadata.Endpoint{
			{
				Binding:  core.ServiceBindingHTTPRedirect,
				Location: sp.cfg.SingleLogoutServiceURL.String(),
			},
		}
	}

	spsso.SPSSODescriptor = []*metadata.SPSSODescriptor{spssoDescriptor}

	return &spsso
}

// keyDescriptors advertises the SP certificate for signing and encryption.
// Without a configured keypair the metadata simply carries no keys.
func (sp *ServiceProvider) keyDescriptors() []metadata.KeyDescriptor {
	keyPair := sp.cfg.KeyPair()
	if keyPair == nil || len(keyPair.Certificate) == 0 {
		return nil
	}

	keyInfo := metadata.KeyInfo{
		KeyInfo: dsigtypes.KeyInfo{
			X509Data: dsigtypes.X509Data{
				X509Certificates: []dsigtypes.X509Certificate{
					{Data: base64.StdEncoding.EncodeToString(keyPair.Certificate[0])},
				},
			},
		},
	}

	return []metadata.KeyDescriptor{
		{Use: metadata.KeyTypeSigning, KeyInfo: keyInfo},
		{Use: metadata.KeyTypeEncryption, KeyInfo: keyInfo},
	}
}

// MetadataXML serializes the SP metadata document, validating it first. The
// result is ready to serve with a text/xml content type.
func (sp *ServiceProvider) MetadataXML(opt ...Option) ([]byte, error) {
	const op = "samlsp.ServiceProvider.MetadataXML"

	spsso := sp.CreateMetadata(opt...)

	if err := validateSPMetadata(spsso); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	raw, err := xml.MarshalIndent(spsso, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%s: failed to serialize metadata: %w", op, err)
	}

	return append([]byte(xml.Header), raw...), nil
}

func validateSPMetadata(spsso *metadata.EntityDescriptorSPSSO) error {
	if spsso.EntityID == "" {
		return fmt.Errorf("missing entity ID: %w", ErrInvalidMetadata)
	}

	if len(spsso.SPSSODescriptor) == 0 {
		return fmt.Errorf("missing SPSSODescriptor: %w", ErrInvalidMetadata)
	}

	for _, desc := range spsso.SPSSODescriptor {
		if len(desc.AssertionConsumerService) == 0 {
			return fmt.Errorf("missing assertion consumer service: %w", ErrInvalidMetadata)
		}
		for _, acs := range desc.AssertionConsumerService {
			if acs.Location == "" {
				return fmt.Errorf("assertion consumer service without location: %w", ErrInvalidMetadata)
			}
		}
	}

	return nil
}

// FetchMetadata fetches and parses the IdP metadata document. It is an
// explicit configuration refresh; nothing on the login or response path
// calls it.
func (sp *ServiceProvider) FetchMetadata(ctx context.Context) (*metadata.EntityDescriptorIDPSSO, error) {
	const op = "samlsp.ServiceProvider.FetchMetadata"

	if sp.cfg.MetadataURL == nil {
		return nil, fmt.Errorf("%s: no metadata URL set: %w", op, ErrInvalidParameter)
	}

	ctx, cancel := context.WithTimeout(ctx, metadataFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sp.cfg.MetadataURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build metadata request: %w", op, err)
	}

	client := cleanhttp.DefaultClient()
	res, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to fetch metadata: %w", op, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: metadata endpoint returned %d: %w",
			op, res.StatusCode, ErrInvalidMetadata)
	}

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxMetadataSize))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read http body: %w", op, err)
	}

	if err := xrv.Validate(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("%s: metadata failed round-trip validation: %w (%w)",
			op, ErrInvalidMetadata, err)
	}

	var ed metadata.EntityDescriptorIDPSSO
	if err := xml.Unmarshal(raw, &ed); err != nil {
		return nil, fmt.Errorf("%s: failed to parse metadata XML: %w (%w)",
			op, ErrInvalidMetadata, err)
	}

	if ed.EntityID != sp.cfg.IdPEntityID {
		return nil, fmt.Errorf("%s: metadata entity ID %q does not match configured IdP %q: %w",
			op, ed.EntityID, sp.cfg.IdPEntityID, ErrInvalidMetadata)
	}

	if len(ed.IDPSSODescriptor) == 0 {
		return nil, fmt.Errorf("%s: metadata carries no IDPSSODescriptor: %w",
			op, ErrInvalidMetadata)
	}

	return &ed, nil
}
