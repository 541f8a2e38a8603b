package dataverse

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
)

const (
	moduleName    = "dataverse"
	moduleVersion = "0.1.0"
)

// Scope returns the token scope of an organization, e.g. "https://org.crm.dynamics.com/.default".
func Scope(orgUri *url.URL) string {
	return fmt.Sprintf("%s://%s/.default", orgUri.Scheme, orgUri.Host)
}

// NewPipeline creates the HTTP pipeline used to call the Web API of an organization.
func NewPipeline(
	credential azcore.TokenCredential,
	orgUri *url.URL,
	clientOptions *azcore.ClientOptions,
) runtime.Pipeline {
	authPolicy := runtime.NewBearerTokenPolicy(credential, []string{Scope(orgUri)}, nil)
	pipelineOptions := runtime.PipelineOptions{
		PerCall:  []policy.Policy{NewODataPolicy()},
		PerRetry: []policy.Policy{authPolicy},
	}

	return runtime.NewPipeline(moduleName, moduleVersion, pipelineOptions, clientOptions)
}

type odataPolicy struct{}

// NewODataPolicy creates a policy that sets the OData protocol headers required by the Web API.
func NewODataPolicy() policy.Policy {
	return &odataPolicy{}
}

func (p *odataPolicy) Do(req *policy.Request) (*http.Response, error) {
	header := req.Raw().Header
	header.Set("OData-MaxVersion", "4.0")
	header.Set("OData-Version", "4.0")
	if header.Get("Accept") == "" {
		header.Set("Accept", "application/json")
	}

	return req.Next()
}
