//go:build azure

package main

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/Hybrid-Cloud/conveyor/driver"
	"github.com/Hybrid-Cloud/conveyor/driver/azure"
	"github.com/Hybrid-Cloud/conveyor/engineconfig"
)

// clientSecretCredential adapts an oauth2.TokenSource (built from the
// client-credentials flow against Azure AD) onto azcore.TokenCredential, so
// the engine authenticates azure.NewDriver without pulling in azidentity —
// golang.org/x/oauth2 is already this module's wired OAuth2 stack (see
// DESIGN.md).
type clientSecretCredential struct {
	source oauth2.TokenSource
}

func (c *clientSecretCredential) GetToken(_ context.Context, _ policy.TokenRequestOptions) (azcore.AccessToken, error) {
	tok, err := c.source.Token()
	if err != nil {
		return azcore.AccessToken{}, err
	}
	return azcore.AccessToken{Token: tok.AccessToken, ExpiresOn: tok.Expiry}, nil
}

// buildCloudDriver wires the Azure Resource Manager adapter, reading
// tenant/client/secret from the "azure" entry of
// engineconfig.EngineConfig.Clouds.
func buildCloudDriver(ctx context.Context, cfg *engineconfig.EngineConfig) (driver.CloudDriver, error) {
	creds := cfg.Clouds["azure"]
	tokenURL := "https://login.microsoftonline.com/" + creds.TenantID + "/oauth2/v2.0/token"
	oauthCfg := &clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{"https://management.azure.com/.default"},
	}
	cred := &clientSecretCredential{source: oauthCfg.TokenSource(ctx)}
	return azure.NewDriver(cred)
}
