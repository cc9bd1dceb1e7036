package driver

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"memoria/pkg/memoria"
)

// Definition describes one configured driver entry.
type Definition struct {
	// Name is the stable configured driver instance identifier.
	Name string
	// Type identifies which builder should construct this runtime.
	Type string
	// Enabled controls whether this definition is active.
	Enabled bool
	// Config stores driver-type-specific JSON payload.
	Config []byte
}

// Runtime contains one fully built driver runtime instance.
type Runtime struct {
	// Name is the configured driver instance name.
	Name string
	// Platform is the chat platform served by Driver.
	Platform memoria.Platform
	// Driver is the inbound runtime implementation registered with kernel.
	Driver memoria.Driver
	// SinkDispatcher sends and edits messages on the platform.
	SinkDispatcher memoria.SinkDispatcher
	// MediaDownloader fetches attachments delivered by Driver.
	MediaDownloader memoria.MediaDownloader
}

// BuilderFunc builds one runtime from one configured driver definition.
type BuilderFunc func(ctx context.Context, definition Definition, logger *slog.Logger) (Runtime, error)

// Descriptor binds one driver type token to platform metadata and a runtime builder.
type Descriptor struct {
	Type     string
	Platform memoria.Platform
	Builder  BuilderFunc
}

type registryEntry struct {
	platform memoria.Platform
	builder  BuilderFunc
}

// Registry maps driver types to runtime builders.
type Registry struct {
	entries map[string]registryEntry
	types   []string
}

// NewRegistry creates one immutable driver registry from descriptors.
func NewRegistry(descriptors []Descriptor) (*Registry, error) {
	entries := make(map[string]registryEntry, len(descriptors))
	types := make([]string, 0, len(descriptors))
	for _, descriptor := range descriptors {
		if descriptor.Type == "" {
			return nil, fmt.Errorf("new registry: empty descriptor type")
		}
		if descriptor.Platform == "" {
			return nil, fmt.Errorf("new registry type %s: empty platform", descriptor.Type)
		}
		if descriptor.Builder == nil {
			return nil, fmt.Errorf("new registry type %s: nil builder", descriptor.Type)
		}
		if _, exists := entries[descriptor.Type]; exists {
			return nil, fmt.Errorf("new registry type %s: duplicate", descriptor.Type)
		}

		entries[descriptor.Type] = registryEntry{platform: descriptor.Platform, builder: descriptor.Builder}
		types = append(types, descriptor.Type)
	}
	sort.Strings(types)

	return &Registry{entries: entries, types: types}, nil
}

// Types returns all registered driver types in sorted order.
func (r *Registry) Types() []string {
	if r == nil {
		return nil
	}

	return append([]string(nil), r.types...)
}

// BuildEnabled builds all enabled driver definitions.
//
// At most one runtime per platform is allowed since outbound routing is by
// platform.
func (r *Registry) BuildEnabled(
	ctx context.Context,
	definitions []Definition,
	logger *slog.Logger,
) ([]Runtime, error) {
	if r == nil {
		return nil, fmt.Errorf("build drivers: nil registry")
	}

	runtimes := make([]Runtime, 0, len(definitions))
	seenNames := make(map[string]struct{}, len(definitions))
	seenPlatforms := make(map[memoria.Platform]string, len(definitions))
	for _, definition := range definitions {
		if !definition.Enabled {
			continue
		}
		if definition.Name == "" {
			return nil, fmt.Errorf("build driver: empty name")
		}
		if _, exists := seenNames[definition.Name]; exists {
			return nil, fmt.Errorf("build driver %s: duplicate name", definition.Name)
		}
		seenNames[definition.Name] = struct{}{}

		entry, exists := r.entries[definition.Type]
		if !exists {
			return nil, fmt.Errorf("build driver %s type %q: unsupported type", definition.Name, definition.Type)
		}
		if other, taken := seenPlatforms[entry.platform]; taken {
			return nil, fmt.Errorf("build driver %s: platform %s already served by %s",
				definition.Name, entry.platform, other)
		}

		runtime, err := entry.builder(ctx, definition, logger)
		if err != nil {
			return nil, fmt.Errorf("build driver %s type %s: %w", definition.Name, definition.Type, err)
		}
		if runtime.Driver == nil {
			return nil, fmt.Errorf("build driver %s type %s: nil driver", definition.Name, definition.Type)
		}
		if runtime.Name == "" {
			runtime.Name = definition.Name
		}
		if runtime.Platform == "" {
			runtime.Platform = entry.platform
		}
		seenPlatforms[runtime.Platform] = definition.Name

		runtimes = append(runtimes, runtime)
	}

	return runtimes, nil
}

// CompositeSinkDispatcher routes outbound operations to the runtime serving the
// target platform.
type CompositeSinkDispatcher struct {
	byPlatform map[memoria.Platform]memoria.SinkDispatcher
}

// NewCompositeSinkDispatcher creates a composite dispatcher from runtime sinks.
func NewCompositeSinkDispatcher(runtimes []Runtime) (*CompositeSinkDispatcher, error) {
	byPlatform := make(map[memoria.Platform]memoria.SinkDispatcher, len(runtimes))
	for _, runtime := range runtimes {
		if runtime.SinkDispatcher == nil {
			continue
		}
		if runtime.Platform == "" {
			return nil, fmt.Errorf("new composite sink dispatcher %s: missing platform", runtime.Name)
		}
		if _, exists := byPlatform[runtime.Platform]; exists {
			return nil, fmt.Errorf("new composite sink dispatcher: duplicate platform %s", runtime.Platform)
		}
		byPlatform[runtime.Platform] = runtime.SinkDispatcher
	}

	return &CompositeSinkDispatcher{byPlatform: byPlatform}, nil
}

// SendMessage routes send-message requests to one concrete sink.
func (d *CompositeSinkDispatcher) SendMessage(
	ctx context.Context,
	request memoria.SendMessageRequest,
) (*memoria.OutboundMessage, error) {
	dispatcher, err := d.resolve(request.Target.Platform)
	if err != nil {
		return nil, fmt.Errorf("resolve sink for send message: %w", err)
	}

	response, err := dispatcher.SendMessage(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("route send message: %w", err)
	}

	return response, nil
}

// EditMessage routes edit-message requests to one concrete sink.
func (d *CompositeSinkDispatcher) EditMessage(ctx context.Context, request memoria.EditMessageRequest) error {
	dispatcher, err := d.resolve(request.Target.Platform)
	if err != nil {
		return fmt.Errorf("resolve sink for edit message: %w", err)
	}

	if err := dispatcher.EditMessage(ctx, request); err != nil {
		return fmt.Errorf("route edit message: %w", err)
	}

	return nil
}

func (d *CompositeSinkDispatcher) resolve(platform memoria.Platform) (memoria.SinkDispatcher, error) {
	if d == nil || len(d.byPlatform) == 0 {
		return nil, fmt.Errorf("%w: no sinks configured", memoria.ErrOutboundUnsupported)
	}
	if platform == "" && len(d.byPlatform) == 1 {
		for _, dispatcher := range d.byPlatform {
			return dispatcher, nil
		}
	}

	dispatcher, exists := d.byPlatform[platform]
	if !exists {
		return nil, fmt.Errorf("%w: no sink for platform %q", memoria.ErrOutboundUnsupported, platform)
	}

	return dispatcher, nil
}

// CompositeMediaDownloader routes downloads to the runtime that delivered the
// attachment.
type CompositeMediaDownloader struct {
	byPlatform map[memoria.Platform]memoria.MediaDownloader
}

// NewCompositeMediaDownloader creates a composite downloader from runtimes.
func NewCompositeMediaDownloader(runtimes []Runtime) (*CompositeMediaDownloader, error) {
	byPlatform := make(map[memoria.Platform]memoria.MediaDownloader, len(runtimes))
	for _, runtime := range runtimes {
		if runtime.MediaDownloader == nil {
			continue
		}
		if _, exists := byPlatform[runtime.Platform]; exists {
			return nil, fmt.Errorf("new composite media downloader: duplicate platform %s", runtime.Platform)
		}
		byPlatform[runtime.Platform] = runtime.MediaDownloader
	}

	return &CompositeMediaDownloader{byPlatform: byPlatform}, nil
}

// DownloadMedia routes one download request by platform.
func (d *CompositeMediaDownloader) DownloadMedia(
	ctx context.Context,
	request memoria.MediaDownloadRequest,
) ([]byte, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: no downloaders configured", memoria.ErrMediaUnavailable)
	}
	downloader, exists := d.byPlatform[request.Platform]
	if !exists {
		return nil, fmt.Errorf("%w: no downloader for platform %q", memoria.ErrMediaUnavailable, request.Platform)
	}

	data, err := downloader.DownloadMedia(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("route download media: %w", err)
	}

	return data, nil
}

var (
	_ memoria.SinkDispatcher  = (*CompositeSinkDispatcher)(nil)
	_ memoria.MediaDownloader = (*CompositeMediaDownloader)(nil)
)
