package servicebus

import (
	"context"
	"errors"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"

	"post-mirror/infrastructure/logger"
)

// NewServiceBus opens a client with a connection string when one is given,
// otherwise with the default Azure credential chain against namespace.
func NewServiceBus(ctx context.Context, namespace, connectionString string) (*azservicebus.Client, error) {
	if connectionString != "" {
		return azservicebus.NewClientFromConnectionString(connectionString, nil)
	}
	if namespace == "" {
		return nil, errors.New("service bus namespace is empty")
	}
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while resolving azure credential.")
		return nil, err
	}
	return azservicebus.NewClient(namespace, cred, nil)
}
