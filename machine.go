package rgbdcalib

import (
	"context"
	"fmt"
	"os"
	"sort"

	"go.viam.com/rdk/cli"
	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/robot"
	"go.viam.com/rdk/robot/client"
	"go.viam.com/rdk/robot/framesystem"
	"go.viam.com/rdk/utils"
	"go.viam.com/utils/rpc"
)

var NamespaceFamily = resource.NewModelFamily("erh", "rgbdcalib")

func MachineToDependencies(client robot.Robot) (resource.Dependencies, error) {
	deps := resource.Dependencies{}

	names := client.ResourceNames()
	for _, n := range names {
		r, err := client.ResourceByName(n)
		if err != nil {
			return nil, err
		}
		deps[n] = r
	}

	r, ok := client.(resource.Resource)
	if !ok {
		return nil, fmt.Errorf("client isn't a resource.Resource")
	}

	deps[framesystem.PublicServiceName] = r

	return deps, nil
}

func ConnectToMachineFromEnv(ctx context.Context, logger logging.Logger) (robot.Robot, error) {
	params := []string{}
	for _, pp := range []string{utils.MachineFQDNEnvVar, utils.APIKeyIDEnvVar, utils.APIKeyEnvVar} {
		x := os.Getenv(pp)
		if x == "" {
			return nil, fmt.Errorf("no environment variable for %s", pp)
		}
		params = append(params, x)
	}
	return ConnectToMachine(ctx, logger, params[0], params[1], params[2])
}

func ConnectToMachine(ctx context.Context, logger logging.Logger, host, apiKeyId, apiKey string) (robot.Robot, error) {
	return client.New(
		ctx,
		host,
		logger,
		client.WithDialOptions(rpc.WithEntityCredentials(
			apiKeyId,
			rpc.Credentials{
				Type:    rpc.CredentialsTypeAPIKey,
				Payload: apiKey,
			},
		)),
	)
}

// ConnectToHostFromCLIToken uses the viam cli token to login to a machine with just a hostname.
// use "viam login" to setup the token.
func ConnectToHostFromCLIToken(ctx context.Context, host string, logger logging.Logger) (robot.Robot, error) {
	if host == "" {
		return nil, fmt.Errorf("need to specify host")
	}

	c, err := cli.ConfigFromCache(nil)
	if err != nil {
		return nil, err
	}

	dopts, err := c.DialOptions()
	if err != nil {
		return nil, err
	}

	return client.New(
		ctx,
		host,
		logger,
		client.WithDialOptions(dopts...),
	)
}

func FindDep(deps resource.Dependencies, n string) (resource.Resource, bool) {
	for nn, r := range deps {
		if nn.ShortName() == n {
			return r, true
		}
	}
	return nil, false
}

// MachineCameraNames returns the short names of every camera on the machine, sorted.
// The position in this list is the device index used when connecting.
func MachineCameraNames(deps resource.Dependencies) []string {
	names := []string{}
	for n := range deps {
		if n.API == camera.API {
			names = append(names, n.ShortName())
		}
	}
	sort.Strings(names)
	return names
}

// MachineCameras returns the machine's cameras in MachineCameraNames order.
func MachineCameras(deps resource.Dependencies) ([]camera.Camera, error) {
	cams := []camera.Camera{}
	for _, n := range MachineCameraNames(deps) {
		c, err := camera.FromProvider(deps, n)
		if err != nil {
			return nil, err
		}
		cams = append(cams, c)
	}
	return cams, nil
}
