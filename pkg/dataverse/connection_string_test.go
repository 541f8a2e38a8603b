package dataverse

import (
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/cloud"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/azure/dataverse-client-go/pkg/auth"
	"github.com/stretchr/testify/require"
)

func TestParseConnectionString(t *testing.T) {
	t.Run("ClientSecret", func(t *testing.T) {
		cs, err := ParseConnectionString(
			"AuthType=ClientSecret; Url=https://org.crm.example.com; ClientId=app-id; " +
				"ClientSecret='se;cr=et'; TenantId=tenant-id",
		)
		require.NoError(t, err)
		require.Equal(t, &ConnectionString{
			AuthType:     auth.AuthTypeClientSecret,
			Url:          "https://org.crm.example.com",
			ClientId:     "app-id",
			ClientSecret: "se;cr=et",
			TenantId:     "tenant-id",
			LoginPrompt:  LoginPromptAuto,
		}, cs)
	})

	t.Run("AliasesAndCase", func(t *testing.T) {
		cs, err := ParseConnectionString(
			`authtype=oauth;ServiceUri=https://org.crm.example.com;AppId=app;User Name=user@contoso.com;` +
				`Password="p@ss;word";RedirectUri=http://localhost:8080;LoginPrompt=never;Unknown=ignored`,
		)
		require.NoError(t, err)
		require.Equal(t, auth.AuthTypeOAuth, cs.AuthType)
		require.Equal(t, "https://org.crm.example.com", cs.Url)
		require.Equal(t, "app", cs.ClientId)
		require.Equal(t, "user@contoso.com", cs.Username)
		require.Equal(t, "p@ss;word", cs.Password)
		require.Equal(t, "http://localhost:8080", cs.RedirectUri)
		require.Equal(t, LoginPromptNever, cs.LoginPrompt)
	})

	t.Run("LegacyDomain", func(t *testing.T) {
		cs, err := ParseConnectionString("AuthType=AD;Url=https://crm.contoso.local/org;Domain=CONTOSO;Username=u;Password=p")
		require.NoError(t, err)
		require.Equal(t, auth.AuthTypeAD, cs.AuthType)
		require.Equal(t, "CONTOSO", cs.Domain)
	})

	t.Run("Errors", func(t *testing.T) {
		tests := map[string]string{
			"Empty":          "",
			"MissingAuth":    "Url=https://org.crm.example.com",
			"MissingUrl":     "AuthType=OAuth",
			"UnknownAuth":    "AuthType=Kerberos;Url=https://org.crm.example.com",
			"NotAPair":       "AuthType=OAuth;Url",
			"OpenQuote":      "AuthType=OAuth;Url='https://org.crm.example.com",
			"BadLoginPrompt": "AuthType=OAuth;Url=https://org.crm.example.com;LoginPrompt=Sometimes",
		}

		for name, value := range tests {
			t.Run(name, func(t *testing.T) {
				_, err := ParseConnectionString(value)
				require.Error(t, err)
			})
		}
	})
}

func TestNewCredential(t *testing.T) {
	tests := []struct {
		name             string
		connectionString string
		useDeviceCode    bool
		expected         any
		wantErr          bool
	}{
		{
			name:             "ClientSecret",
			connectionString: "AuthType=ClientSecret;Url=https://org.crm.example.com;ClientId=a;ClientSecret=s;TenantId=t",
			expected:         &azidentity.ClientSecretCredential{},
		},
		{
			name:             "ClientSecretWithoutTenant",
			connectionString: "AuthType=ClientSecret;Url=https://org.crm.example.com;ClientId=a;ClientSecret=s",
			wantErr:          true,
		},
		{
			name:             "UsernamePassword",
			connectionString: "AuthType=OAuth;Url=https://org.crm.example.com;Username=u@contoso.com;Password=p",
			expected:         &azidentity.UsernamePasswordCredential{},
		},
		{
			name:             "InteractiveBrowser",
			connectionString: "AuthType=OAuth;Url=https://org.crm.example.com",
			expected:         &azidentity.InteractiveBrowserCredential{},
		},
		{
			name:             "DeviceCode",
			connectionString: "AuthType=OAuth;Url=https://org.crm.example.com",
			useDeviceCode:    true,
			expected:         &azidentity.DeviceCodeCredential{},
		},
		{
			name:             "AzureCli",
			connectionString: "AuthType=OAuth;Url=https://org.crm.example.com;LoginPrompt=Never",
			expected:         &azidentity.AzureCLICredential{},
		},
		{
			name:             "MissingCertificate",
			connectionString: "AuthType=Certificate;Url=https://org.crm.example.com;ClientId=a;TenantId=t",
			wantErr:          true,
		},
		{
			name:             "ExternalTokenManagement",
			connectionString: "AuthType=ExternalTokenManagement;Url=https://org.crm.example.com",
			wantErr:          true,
		},
		{
			name:             "Legacy",
			connectionString: "AuthType=IFD;Url=https://org.crm.example.com",
			wantErr:          true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs, err := ParseConnectionString(tt.connectionString)
			require.NoError(t, err)

			credential, err := NewCredential(cs, &CredentialOptions{UseDeviceCode: tt.useDeviceCode})
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.IsType(t, tt.expected, credential)
		})
	}
}

func TestCloudForOrganization(t *testing.T) {
	require.Equal(t, cloud.AzurePublic, CloudForOrganization("https://org.crm.dynamics.com"))
	require.Equal(t, cloud.AzureGovernment, CloudForOrganization("https://org.crm9.dynamics.com"))
	require.Equal(t, cloud.AzureGovernment, CloudForOrganization("https://org.crm.microsoftdynamics.us"))
	require.Equal(t, cloud.AzureChina, CloudForOrganization("https://org.crm.dynamics.cn"))
	require.Equal(t, cloud.AzurePublic, CloudForOrganization("::"))
}

func TestNewServiceClientFromConnectionString(t *testing.T) {
	client, err := NewServiceClientFromConnectionString(
		"AuthType=ClientSecret;Url=https://org.crm.example.com;ClientId=a;ClientSecret=s;TenantId=t",
		&ServiceClientOptions{ClientOptions: &azcore.ClientOptions{}},
	)
	require.NoError(t, err)
	require.Equal(t, auth.AuthTypeClientSecret, client.AuthType())
	require.Equal(t, "org.crm.example.com", client.ConnectedOrgUri().Host)

	_, err = NewServiceClientFromConnectionString("AuthType=AD;Url=https://org.crm.example.com;Domain=d", nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
}
