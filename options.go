package openhash

const (
	defaultLoadFactor   = 0.8
	defaultGrowthFactor = 1.2
)

type config[K any] struct {
	loadFactor   float64
	growthFactor float64
	hasher       Hasher[K]
	mapper       Mapper
	capacity     int
}

func makeConfig[K any](opts []Option[K]) config[K] {
	cfg := config[K]{
		loadFactor:   defaultLoadFactor,
		growthFactor: defaultGrowthFactor,
		mapper:       defaultMapper,
	}
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

// Option configures a table at construction or open time.
type Option[K any] func(*config[K])

// WithLoadFactor sets the occupancy fraction that triggers growth.
// The default is 0.8.
func WithLoadFactor[K any](f float64) Option[K] {
	return func(c *config[K]) { c.loadFactor = f }
}

// WithGrowthFactor sets the capacity multiplier used by untargeted growth.
// The default is 1.2.
func WithGrowthFactor[K any](f float64) Option[K] {
	return func(c *config[K]) { c.growthFactor = f }
}

// WithHasher substitutes the hash function.
func WithHasher[K any](h Hasher[K]) Option[K] {
	return func(c *config[K]) { c.hasher = h }
}

// WithMapper substitutes the mapping provider. Only Open* constructors
// consult it.
func WithMapper[K any](m Mapper) Option[K] {
	return func(c *config[K]) { c.mapper = m }
}

// WithCapacity pre-reserves room for n live entries.
func WithCapacity[K any](n int) Option[K] {
	return func(c *config[K]) { c.capacity = n }
}
