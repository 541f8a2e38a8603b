// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

package dataverse

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/cloud"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/azure/dataverse-client-go/pkg/auth"
)

// Application registered by Microsoft for development and prototyping against Dataverse.
const defaultClientId = "51f81489-12ee-4a9e-aaae-a2591f45987d"

const defaultRedirectUri = "http://localhost"

// LoginPrompt controls whether an OAuth connection may show a sign-in UI.
type LoginPrompt string

const (
	LoginPromptAuto   LoginPrompt = "Auto"
	LoginPromptAlways LoginPrompt = "Always"
	LoginPromptNever  LoginPrompt = "Never"
)

// ConnectionString holds the settings of a Dataverse connection string such as
//
//	AuthType=ClientSecret;Url=https://org.crm.dynamics.com;ClientId=...;ClientSecret=...;TenantId=...
type ConnectionString struct {
	AuthType            auth.AuthType
	Url                 string
	ClientId            string
	ClientSecret        string
	TenantId            string
	Username            string
	Password            string
	Domain              string
	CertificateFile     string
	CertificatePassword string
	RedirectUri         string
	LoginPrompt         LoginPrompt
}

// Connection string key aliases, lower case, mapped to the canonical key.
var connectionStringKeys = map[string]string{
	"authtype":            "authtype",
	"authenticationtype":  "authtype",
	"url":                 "url",
	"serviceuri":          "url",
	"service uri":         "url",
	"server":              "url",
	"clientid":            "clientid",
	"appid":               "clientid",
	"applicationid":       "clientid",
	"clientsecret":        "clientsecret",
	"secret":              "clientsecret",
	"tenantid":            "tenantid",
	"tenant":              "tenantid",
	"username":            "username",
	"user name":           "username",
	"userid":              "username",
	"user id":             "username",
	"password":            "password",
	"domain":              "domain",
	"certificatefile":     "certificatefile",
	"certificatepassword": "certificatepassword",
	"redirecturi":         "redirecturi",
	"replyurl":            "redirecturi",
	"loginprompt":         "loginprompt",
}

func (cs *ConnectionString) set(key string, value string) error {
	switch key {
	case "authtype":
		authType, err := auth.ParseAuthType(value)
		if err != nil {
			return err
		}
		cs.AuthType = authType
	case "url":
		cs.Url = value
	case "clientid":
		cs.ClientId = value
	case "clientsecret":
		cs.ClientSecret = value
	case "tenantid":
		cs.TenantId = value
	case "username":
		cs.Username = value
	case "password":
		cs.Password = value
	case "domain":
		cs.Domain = value
	case "certificatefile":
		cs.CertificateFile = value
	case "certificatepassword":
		cs.CertificatePassword = value
	case "redirecturi":
		cs.RedirectUri = value
	case "loginprompt":
		for _, prompt := range []LoginPrompt{LoginPromptAuto, LoginPromptAlways, LoginPromptNever} {
			if strings.EqualFold(value, string(prompt)) {
				cs.LoginPrompt = prompt
				return nil
			}
		}
		return fmt.Errorf("unknown login prompt '%s'", value)
	}

	return nil
}

// ParseConnectionString parses "key=value" pairs separated by ';'. Keys are case-insensitive and values
// may be quoted with ' or " to include ';'. Unknown keys are ignored.
func ParseConnectionString(value string) (*ConnectionString, error) {
	pairs, err := splitConnectionString(value)
	if err != nil {
		return nil, err
	}

	cs := &ConnectionString{LoginPrompt: LoginPromptAuto}
	for _, pair := range pairs {
		key, has := connectionStringKeys[strings.ToLower(pair[0])]
		if !has {
			log.Printf("connection string: ignoring unknown key '%s'", pair[0])
			continue
		}

		if err := cs.set(key, pair[1]); err != nil {
			return nil, fmt.Errorf("connection string key '%s': %w", pair[0], err)
		}
	}

	if cs.AuthType == "" {
		return nil, fmt.Errorf("connection string has no AuthType: %w", ErrInvalidArgument)
	}

	if cs.Url == "" {
		return nil, fmt.Errorf("connection string has no Url: %w", ErrInvalidArgument)
	}

	if _, err := url.Parse(cs.Url); err != nil {
		return nil, fmt.Errorf("connection string Url: %w: %w", err, ErrInvalidArgument)
	}

	return cs, nil
}

// splitConnectionString returns the trimmed key and unquoted value of every pair.
func splitConnectionString(value string) ([][2]string, error) {
	var pairs [][2]string

	rest := value
	for {
		rest = strings.TrimLeft(rest, " \t\r\n;")
		if rest == "" {
			return pairs, nil
		}

		key, after, found := strings.Cut(rest, "=")
		if !found {
			return nil, fmt.Errorf("connection string segment '%s' is not a key=value pair: %w", rest, ErrInvalidArgument)
		}

		key = strings.TrimSpace(key)
		after = strings.TrimLeft(after, " \t")

		var pairValue string
		if after != "" && (after[0] == '\'' || after[0] == '"') {
			quote := after[0]
			end := strings.IndexByte(after[1:], quote)
			if end < 0 {
				return nil, fmt.Errorf("connection string value for '%s' has no closing quote: %w", key, ErrInvalidArgument)
			}

			pairValue = after[1 : end+1]
			rest = after[end+2:]
		} else {
			pairValue, rest, _ = strings.Cut(after, ";")
			pairValue = strings.TrimSpace(pairValue)
		}

		pairs = append(pairs, [2]string{key, pairValue})
	}
}

// CredentialOptions configures NewCredential.
type CredentialOptions struct {
	ClientOptions azcore.ClientOptions
	// UseDeviceCode selects the device code flow instead of a browser for interactive OAuth sign in.
	UseDeviceCode bool
}

// NewCredential builds the credential described by a connection string.
// When ClientOptions selects no cloud, the cloud is inferred from the organization host.
func NewCredential(cs *ConnectionString, options *CredentialOptions) (azcore.TokenCredential, error) {
	if cs == nil {
		return nil, fmt.Errorf("connection string is required: %w", ErrInvalidArgument)
	}

	if options == nil {
		options = &CredentialOptions{}
	}

	clientOptions := options.ClientOptions
	if clientOptions.Cloud.ActiveDirectoryAuthorityHost == "" {
		clientOptions.Cloud = CloudForOrganization(cs.Url)
	}

	switch cs.AuthType {
	case auth.AuthTypeClientSecret:
		if cs.TenantId == "" || cs.ClientId == "" || cs.ClientSecret == "" {
			return nil, fmt.Errorf("client secret authentication requires TenantId, ClientId and ClientSecret: %w",
				ErrInvalidArgument)
		}

		return azidentity.NewClientSecretCredential(cs.TenantId, cs.ClientId, cs.ClientSecret,
			&azidentity.ClientSecretCredentialOptions{ClientOptions: clientOptions})
	case auth.AuthTypeCertificate:
		if cs.TenantId == "" || cs.ClientId == "" || cs.CertificateFile == "" {
			return nil, fmt.Errorf("certificate authentication requires TenantId, ClientId and CertificateFile: %w",
				ErrInvalidArgument)
		}

		data, err := os.ReadFile(cs.CertificateFile)
		if err != nil {
			return nil, fmt.Errorf("reading certificate: %w", err)
		}

		var password []byte
		if cs.CertificatePassword != "" {
			password = []byte(cs.CertificatePassword)
		}

		certs, key, err := azidentity.ParseCertificates(data, password)
		if err != nil {
			return nil, fmt.Errorf("parsing certificate: %w", err)
		}

		return azidentity.NewClientCertificateCredential(cs.TenantId, cs.ClientId, certs, key,
			&azidentity.ClientCertificateCredentialOptions{ClientOptions: clientOptions})
	case auth.AuthTypeOAuth:
		return newOAuthCredential(cs, clientOptions, options.UseDeviceCode)
	case auth.AuthTypeExternalTokenManagement:
		return nil, fmt.Errorf("external token management connections take a caller supplied credential: %w",
			ErrInvalidArgument)
	default:
		return nil, fmt.Errorf("authentication type '%s' is not supported by the Web API client: %w",
			cs.AuthType, ErrInvalidArgument)
	}
}

func newOAuthCredential(
	cs *ConnectionString,
	clientOptions azcore.ClientOptions,
	useDeviceCode bool,
) (azcore.TokenCredential, error) {
	clientId := cs.ClientId
	if clientId == "" {
		clientId = defaultClientId
	}

	tenantId := cs.TenantId
	if tenantId == "" {
		tenantId = "organizations"
	}

	switch {
	case cs.Username != "" && cs.Password != "":
		return azidentity.NewUsernamePasswordCredential(tenantId, clientId, cs.Username, cs.Password,
			&azidentity.UsernamePasswordCredentialOptions{ClientOptions: clientOptions})
	case cs.LoginPrompt == LoginPromptNever:
		return azidentity.NewAzureCLICredential(&azidentity.AzureCLICredentialOptions{TenantID: cs.TenantId})
	case useDeviceCode:
		return azidentity.NewDeviceCodeCredential(&azidentity.DeviceCodeCredentialOptions{
			ClientOptions: clientOptions,
			ClientID:      clientId,
			TenantID:      tenantId,
		})
	default:
		redirectUri := cs.RedirectUri
		if redirectUri == "" {
			redirectUri = defaultRedirectUri
		}

		return azidentity.NewInteractiveBrowserCredential(&azidentity.InteractiveBrowserCredentialOptions{
			ClientOptions: clientOptions,
			ClientID:      clientId,
			TenantID:      tenantId,
			RedirectURL:   redirectUri,
			LoginHint:     cs.Username,
		})
	}
}

// CloudForOrganization returns the sovereign cloud hosting an organization, based on its host name.
func CloudForOrganization(orgUri string) cloud.Configuration {
	parsed, err := url.Parse(orgUri)
	if err != nil {
		return cloud.AzurePublic
	}

	host := strings.ToLower(parsed.Hostname())
	switch {
	case strings.HasSuffix(host, ".dynamics.cn"):
		return cloud.AzureChina
	case strings.HasSuffix(host, ".microsoftdynamics.us"),
		strings.HasSuffix(host, ".crm9.dynamics.com"),
		strings.HasSuffix(host, ".appsplatform.us"):
		return cloud.AzureGovernment
	default:
		return cloud.AzurePublic
	}
}

// NewServiceClientFromConnectionString parses a connection string and connects a ServiceClient with the
// credential it describes.
func NewServiceClientFromConnectionString(
	connectionString string,
	options *ServiceClientOptions,
) (*ServiceClient, error) {
	cs, err := ParseConnectionString(connectionString)
	if err != nil {
		return nil, err
	}

	credentialOptions := &CredentialOptions{}
	clientOptions := &ServiceClientOptions{}
	if options != nil {
		*clientOptions = *options
		if options.ClientOptions != nil {
			credentialOptions.ClientOptions = *options.ClientOptions
		}
	}

	credential, err := NewCredential(cs, credentialOptions)
	if err != nil {
		return nil, err
	}

	clientOptions.AuthType = cs.AuthType
	return NewServiceClient(cs.Url, credential, clientOptions)
}
