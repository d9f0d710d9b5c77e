// Package container is a context-aware dependency-injection runtime.
//
// # Overview
//
// Bindings map a capability type to a class, a pre-built instance, a
// factory or a variant selector. Resolving a type builds the object graph
// below it on demand, caches singletons and tracks the qualifier tags
// visible at every point of reference. Types are identified by
// [reflect.Type]; classes are described explicitly through [Class] and
// [Constructor] descriptors.
//
// # Scope Lifecycle
//
//  1. Create: s := container.New(container.WithLogger(log))
//  2. Register bindings, directly or through a [ProviderRegistry]
//  3. Resolve: container.Resolve[Service](s)
//  4. Dispose: s.Close(ctx) closes every cached io.Closer, newest first
//
// # Bindings
//
//	// Cached once per context
//	container.Singleton[Cache](s, container.Provide(NewRedisCache))
//
//	// Fresh instance on every resolution
//	container.Bind[*Request](s, container.Provide(NewRequest))
//
//	// Pre-built value
//	container.Instance[*config.Config](s, cfg)
//
//	// Redirect
//	container.Alias[Store, *DiskStore](s)
//
// # Classes and Parameters
//
// A class with several constructors must mark exactly one of them:
//
//	class := container.NewClass[*Client](
//	    container.Ctor(NewClient),
//	    container.Ctor(NewClientWithPool, container.Ref[Pool]()).Marked(),
//	)
//
// Parameters are declared with [Ref], [OptionalRef], [GroupRef], [LazyRef],
// [ContextRef] and [ResolverRef]. When no parameters are given, every
// function argument is a mandatory reference of its own type.
//
// # Contexts
//
// A tag is any value whose type a class accepts. Tags flow from
// the reference site to the referenced component and on into its own
// dependencies, collapsed by the [Composition] declared for their type:
//
//	container.DeclareTag[Region](s.Tags(), container.Last)
//
//	class := container.Provide(NewStore).Accepting(container.TypeOf[Region]())
//	container.Singleton[Store](s, class)
//
//	eu, _ := container.Resolve[Store](s, container.WithTags(Region("eu")))
//	us, _ := container.Resolve[Store](s, container.WithTags(Region("us")))
//	// eu != us: each context gets its own singleton
//
// # Cycles
//
// A reference to a component that is still under construction fails with a
// [*CircularReferencesError] unless the reference is to an interface with a
// proxy registered through [RegisterProxy], or is deferred with [LazyRef].
//
// # Groups
//
// Group members are resolved in registration order, members of parent
// scopes first. A member referenced by another member while the group is
// being built is moved right behind the member that referenced it.
//
// # Factories
//
// A [ComponentFactory] builds products per context; a [VariantFactory]
// selects which binding target serves a context. The factory object itself
// is cached once per context it accepts.
//
// # Scopes
//
// [Scope.Child] adds bindings on top of a parent. [Scope.Domain] also keeps
// a private cache for everything resolved through it. Closing a scope closes
// its children first.
//
// # Service Providers
//
//	type AppServiceProvider struct{ container.BaseProvider }
//
//	func (p *AppServiceProvider) Register(s *container.Scope) error {
//	    return container.Singleton[Mailer](s, container.Provide(NewSMTPMailer))
//	}
//
//	registry := container.NewProviderRegistry(s)
//	registry.Register(&AppServiceProvider{})
//	registry.Boot()
//
// # Deferred Providers
//
//	type HeavyProvider struct{ container.BaseProvider }
//
//	func (p *HeavyProvider) IsDeferred() bool { return true }
//	func (p *HeavyProvider) Provides() []reflect.Type {
//	    return []reflect.Type{container.TypeOf[Heavy]()}
//	}
//	func (p *HeavyProvider) Register(s *container.Scope) error {
//	    // only called on the first lookup of Heavy
//	    return container.Singleton[Heavy](s, container.Provide(NewHeavy))
//	}
package container
