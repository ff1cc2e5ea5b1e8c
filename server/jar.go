package server

import (
	"context"
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwt"

	oauth "github.com/oauthware/oauth-server"
	"github.com/oauthware/oauth-server/params"
	"github.com/oauthware/oauth-server/policy"
)

// applyRequestObject resolves the JAR request/request_uri parameters and
// overrides the outer request with the signed object's claims.
//
// request and request_uri are mutually exclusive. request_uri needs the
// retriever policy, request needs the validator policy; the validator must
// accept the object's signature before any claim is trusted. Override
// values win over outer parameters, but client_id and response_type must
// agree with the outer request when both carry a value.
func (s *Server) applyRequestObject(ctx context.Context, set *params.Set, rc *policy.RequestContext) error {
	request, err := set.Parse(params.Request, nil)
	if err != nil {
		return err
	}
	requestURI, err := set.Parse(params.RequestURI, nil)
	if err != nil {
		return err
	}

	if request != "" && requestURI != "" {
		return oauth.ErrInvalidRequest("request and request_uri are mutually exclusive")
	}

	if requestURI != "" {
		if !policy.Configured(s.RequestURIRetriever) {
			return oauth.ErrRequestURINotSupported("request_uri is not supported")
		}
		rc.Parameters[params.RequestURI] = requestURI
		ok, err := s.RequestURIRetriever.Invoke(ctx, rc)
		if err != nil {
			return oauth.AsOAuthError(err)
		}
		if !ok || rc.RequestObject == "" {
			return oauth.ErrInvalidRequestURI("request_uri could not be resolved")
		}
		request = rc.RequestObject
	}

	if request == "" {
		return nil
	}

	if !policy.Configured(s.RequestValidator) {
		return oauth.ErrRequestNotSupported("request objects are not supported")
	}
	rc.RequestObject = request
	ok, err := s.RequestValidator.Invoke(ctx, rc)
	if err != nil {
		return oauth.AsOAuthError(err)
	}
	if !ok {
		return oauth.ErrInvalidRequestObject("request object validation failed")
	}

	// Signature already checked by the validator; decode the payload
	token, err := jwt.ParseInsecure([]byte(request))
	if err != nil {
		return oauth.ErrInvalidRequestObject("request object payload is not a valid JWT")
	}

	overrides, err := requestObjectClaims(token)
	if err != nil {
		return err
	}

	// Consistency checks before any override is applied
	if outer := set.Get(params.ClientID); outer != "" {
		if inner, ok := overrides[params.ClientID]; ok && inner != outer {
			return oauth.ErrInvalidRequestObject("request object client_id does not match the request")
		}
	}
	if outer := set.Get(params.ResponseType); outer != "" {
		if inner, ok := overrides[params.ResponseType]; ok {
			canonical, err := params.CanonicalResponseTypes(inner)
			if err != nil {
				return oauth.ErrInvalidRequestObject("request object carries an invalid response_type")
			}
			if canonical != outer {
				return oauth.ErrInvalidRequestObject("request object response_type does not match the request")
			}
		}
	}

	for name, value := range overrides {
		switch name {
		case params.Scope:
			canonical, err := params.CanonicalScopes(value)
			if err != nil {
				return oauth.ErrInvalidRequestObject("request object carries an invalid scope")
			}
			value = canonical
		case params.ResponseType:
			canonical, err := params.CanonicalResponseTypes(value)
			if err != nil {
				return oauth.ErrInvalidRequestObject("request object carries an invalid response_type")
			}
			value = canonical
		}
		set.Put(name, value)
	}
	return nil
}

// requestObjectClaims extracts the authorization parameters carried in a
// validated request object. Nested request objects are rejected.
func requestObjectClaims(token jwt.Token) (map[string]string, error) {
	claims := make(map[string]string)
	for name, value := range token.PrivateClaims() {
		switch name {
		case params.Request, params.RequestURI:
			return nil, oauth.ErrInvalidRequestObject("request objects must not nest request parameters")
		}
		switch v := value.(type) {
		case string:
			claims[name] = v
		case bool:
			claims[name] = fmt.Sprintf("%t", v)
		case float64:
			claims[name] = fmt.Sprintf("%.0f", v)
		}
	}
	// Registered claims relevant to authorization requests
	if aud := token.Audience(); len(aud) > 0 {
		claims[params.Audience] = aud[0]
	}
	return claims, nil
}
