// Package nanopub signs and publishes nanopublications to a nanopub server.
package nanopub

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"post-mirror/domain/apperror"
	"post-mirror/domain/model"
	"post-mirror/domain/repository"
	"post-mirror/domain/semantics"
	"post-mirror/infrastructure/clients/apiclient"

	"github.com/knakk/rdf"
)

const (
	trigContentType = "application/trig"
	keyBits         = 2048
	tempNS          = "http://purl.org/nanopub/temp/np#"
	npNS            = "http://www.nanopub.org/nschema#"
	rdfType         = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"
	rdfsComment     = "http://www.w3.org/2000/01/rdf-schema#comment"
	provAttributed  = "http://www.w3.org/ns/prov#wasAttributedTo"
	dctCreator      = "http://purl.org/dc/terms/creator"
	dctCreated      = "http://purl.org/dc/terms/created"
	hasSignature    = "http://purl.org/nanopub/x/hasSignature"
	hasPublicKey    = "http://purl.org/nanopub/x/hasPublicKey"
)

var commentPattern = regexp.MustCompile(`<` + regexp.QuoteMeta(rdfsComment) + `>\s+("(?:[^"\\]|\\.)*")`)

type Client struct {
	api *apiclient.Client
	now func() time.Time
}

func NewClient(serverURL string, httpClient *http.Client) repository.IPlatform {
	if serverURL == "" {
		serverURL = "https://np.knowledgepixels.com"
	}
	return &Client{api: apiclient.New(model.PlatformNanopub, serverURL, httpClient), now: time.Now}
}

func (c *Client) ID() model.PlatformID { return model.PlatformNanopub }

func (c *Client) Fetch(ctx context.Context, params model.FetchParams, account *model.AccountProfile, creds *model.PlatformCredentials) (*model.FetchResult, error) {
	return nil, apperror.Fatal(model.PlatformNanopub, fmt.Errorf("fetch: %w", apperror.ErrUnsupported))
}

// graph collects the triples of one named graph. The first invalid term is
// kept in err.
type graph struct {
	name    string
	triples []rdf.Triple
	err     error
}

func (g *graph) iri(s string) rdf.IRI {
	v, err := rdf.NewIRI(s)
	if err != nil && g.err == nil {
		g.err = fmt.Errorf("iri %q: %w", s, err)
	}
	return v
}

func (g *graph) literal(v interface{}) rdf.Literal {
	l, err := rdf.NewLiteral(v)
	if err != nil && g.err == nil {
		g.err = err
	}
	return l
}

func (g *graph) add(s rdf.Subject, p rdf.Predicate, o rdf.Object) {
	g.triples = append(g.triples, rdf.Triple{Subj: s, Pred: p, Obj: o})
}

// render writes the graph as a TriG block with N-Triples statements.
func (g *graph) render() (string, error) {
	if g.err != nil {
		return "", g.err
	}
	body, err := semantics.Encode(g.triples)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("<%s%s> {\n%s}\n", tempNS, g.name, body), nil
}

func renderGraphs(graphs ...*graph) (string, error) {
	var b strings.Builder
	for i, g := range graphs {
		block, err := g.render()
		if err != nil {
			return "", fmt.Errorf("graph %s: %w", g.name, err)
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(block)
	}
	return b.String(), nil
}

// ConvertFromGeneric renders the unsigned nanopublication of a post. The
// assertion carries the post text and its parsed semantics.
func (c *Client) ConvertFromGeneric(post *model.AppPost, account *model.AccountProfile) (*model.PlatformPostDraft, error) {
	statements, err := semantics.Decode(post.Semantics)
	if err != nil {
		return nil, apperror.Fatal(model.PlatformNanopub, fmt.Errorf("semantics of post %s: %w", post.ID, err))
	}
	author := "urn:nanopub-signer:" + account.UserID
	if strings.HasPrefix(account.DisplayName, "https://") {
		author = account.DisplayName
	}

	head := &graph{name: "Head"}
	this := head.iri(tempNS)
	head.add(this, head.iri(rdfType), head.iri(npNS+"Nanopublication"))
	head.add(this, head.iri(npNS+"hasAssertion"), head.iri(tempNS+"assertion"))
	head.add(this, head.iri(npNS+"hasProvenance"), head.iri(tempNS+"provenance"))
	head.add(this, head.iri(npNS+"hasPublicationInfo"), head.iri(tempNS+"pubinfo"))

	assertion := &graph{name: "assertion"}
	assertion.add(assertion.iri(tempNS+"post"), assertion.iri(rdfsComment), assertion.literal(post.Content))
	assertion.triples = append(assertion.triples, statements...)

	provenance := &graph{name: "provenance"}
	provenance.add(provenance.iri(tempNS+"assertion"), provenance.iri(provAttributed), provenance.iri(author))

	pubinfo := &graph{name: "pubinfo"}
	pubinfo.add(pubinfo.iri(tempNS), pubinfo.iri(dctCreator), pubinfo.iri(author))
	pubinfo.add(pubinfo.iri(tempNS), pubinfo.iri(dctCreated), pubinfo.literal(time.UnixMilli(post.CreatedAtMs).UTC()))

	unsigned, err := renderGraphs(head, assertion, provenance, pubinfo)
	if err != nil {
		return nil, apperror.Fatal(model.PlatformNanopub, fmt.Errorf("render post %s: %w", post.ID, err))
	}
	return &model.PlatformPostDraft{
		UnsignedPost: unsigned,
		PostApproval: model.PostApprovalPending,
		SignerType:   "rsa",
		SignerID:     account.UserID,
		AuthorUserID: account.UserID,
	}, nil
}

func parsePrivateKey(creds *model.PlatformCredentials) (*rsa.PrivateKey, error) {
	if creds == nil || creds.Extra["privateKey"] == "" {
		return nil, fmt.Errorf("missing signing key")
	}
	block, _ := pem.Decode([]byte(creds.Extra["privateKey"]))
	if block == nil {
		return nil, fmt.Errorf("signing key is not PEM")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("signing key is not RSA")
	}
	return key, nil
}

func publicKeyString(key *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// Sign appends the signature graph to the unsigned content. PKCS#1 v1.5
// signatures are deterministic, so a draft always signs to the same bytes.
func Sign(unsigned string, key *rsa.PrivateKey) (string, error) {
	digest := sha256.Sum256([]byte(unsigned))
	sig, err := rsa.SignPKCS1v15(nil, key, crypto.SHA256, digest[:])
	if err != nil {
		return "", err
	}
	pub, err := publicKeyString(&key.PublicKey)
	if err != nil {
		return "", err
	}
	g := &graph{name: "sig"}
	self := g.iri(tempNS + "sig")
	g.add(self, g.iri(hasSignature), g.literal(base64.StdEncoding.EncodeToString(sig)))
	g.add(self, g.iri(hasPublicKey), g.literal(pub))
	block, err := g.render()
	if err != nil {
		return "", err
	}
	return unsigned + "\n" + block, nil
}

// ArtifactCode is the trusty identifier of signed content.
func ArtifactCode(signed string) string {
	sum := sha256.Sum256([]byte(signed))
	return "RA" + base64.RawURLEncoding.EncodeToString(sum[:])
}

// Publish checks whether the artifact already exists before posting it.
func (c *Client) Publish(ctx context.Context, draft *model.PlatformPostDraft, creds *model.PlatformCredentials) (*model.PostedResult, error) {
	key, err := parsePrivateKey(creds)
	if err != nil {
		return nil, apperror.Fatal(model.PlatformNanopub, err)
	}
	signed, err := Sign(draft.UnsignedPost, key)
	if err != nil {
		return nil, apperror.Fatal(model.PlatformNanopub, fmt.Errorf("sign: %w", err))
	}
	draft.SignedPost = signed
	code := ArtifactCode(signed)

	status, err := c.api.Status(ctx, apiclient.Request{Method: http.MethodHead, Path: "/" + code})
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		_, err = c.api.Do(ctx, apiclient.Request{
			Method:      http.MethodPost,
			Path:        "/",
			RawBody:     []byte(signed),
			ContentType: trigContentType,
		}, nil)
		if err != nil {
			return nil, err
		}
	}
	return &model.PlatformPostPosted{
		UserID:      draft.AuthorUserID,
		PostID:      code,
		TimestampMs: c.now().UnixMilli(),
		Native:      signed,
	}, nil
}

func (c *Client) Get(ctx context.Context, platformPostID string, creds *model.PlatformCredentials) (*model.PlatformPostPosted, error) {
	resp, err := c.api.Do(ctx, apiclient.Request{
		Method: http.MethodGet,
		Path:   "/" + platformPostID,
		Header: map[string]string{"Accept": trigContentType},
	}, nil)
	if err != nil {
		return nil, err
	}
	userID := ""
	if creds != nil {
		userID = creds.Extra["signerId"]
	}
	return &model.PlatformPostPosted{UserID: userID, PostID: platformPostID, Native: string(resp.Body)}, nil
}

func (c *Client) ConvertToGeneric(posted *model.PlatformPostPosted) (*model.GenericPost, error) {
	content := posted.Native
	if m := commentPattern.FindStringSubmatch(posted.Native); m != nil {
		if unquoted, err := strconv.Unquote(m[1]); err == nil {
			content = unquoted
		}
	}
	return &model.GenericPost{Content: content, URL: strings.TrimRight(c.api.BaseURL, "/") + "/" + posted.PostID, TimestampMs: posted.TimestampMs}, nil
}

// HandleSignup registers a signing key: data["privateKey"] (PEM) or a freshly
// generated one. The account id is the key fingerprint.
func (c *Client) HandleSignup(ctx context.Context, data model.SignupData) (*model.AccountDetails, error) {
	pemKey := data["privateKey"]
	if pemKey == "" {
		key, err := rsa.GenerateKey(rand.Reader, keyBits)
		if err != nil {
			return nil, apperror.Fatal(model.PlatformNanopub, fmt.Errorf("generate key: %w", err))
		}
		pemKey = string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}))
	}
	creds := model.PlatformCredentials{Platform: model.PlatformNanopub, Extra: map[string]string{"privateKey": pemKey}}
	key, err := parsePrivateKey(&creds)
	if err != nil {
		return nil, apperror.Fatal(model.PlatformNanopub, err)
	}
	pub, err := publicKeyString(&key.PublicKey)
	if err != nil {
		return nil, apperror.Fatal(model.PlatformNanopub, err)
	}
	sum := sha256.Sum256([]byte(pub))
	signerID := hex.EncodeToString(sum[:16])
	creds.AccessToken = signerID
	creds.Extra["publicKey"] = pub
	creds.Extra["signerId"] = signerID
	display := signerID
	if orcid := data["orcid"]; orcid != "" {
		creds.Extra["orcid"] = orcid
		display = "https://orcid.org/" + orcid
	}
	return &model.AccountDetails{UserID: signerID, DisplayName: display, Credentials: creds}, nil
}
