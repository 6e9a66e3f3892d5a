package watch

import (
	"context"
	"strings"
)

const propertiesSuffix = ".properties"

// StripSuffix removes a trailing ".properties" from a client-supplied
// namespace name. Property-format namespaces are addressed bare internally.
func StripSuffix(namespaceName string) string {
	if strings.HasSuffix(strings.ToLower(namespaceName), propertiesSuffix) {
		return namespaceName[:len(namespaceName)-len(propertiesSuffix)]
	}
	return namespaceName
}

// NormalizeNamespace maps a client-supplied namespace name to its declared
// form: the suffix is stripped, then the app's own declaration wins, then a
// public declaration by any app. Unknown names pass through unchanged.
func (a *KeyAssembler) NormalizeNamespace(ctx context.Context, appID, namespaceName string) (string, error) {
	name := StripSuffix(namespaceName)
	an, err := a.appNamespaces.FindOne(ctx, appID, name)
	if err != nil {
		return "", err
	}
	if an != nil {
		return an.Name, nil
	}
	an, err = a.appNamespaces.FindPublicByName(ctx, name)
	if err != nil {
		return "", err
	}
	if an != nil {
		return an.Name, nil
	}
	return name, nil
}
