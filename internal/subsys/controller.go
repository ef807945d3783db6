package subsys

import (
	"context"
	"fmt"
	"log"
)

// Controller brings a fixed set of subsystems up in registration order and
// tears them down in reverse. A failed init rolls back the already-initialized
// prefix before returning.
type Controller struct {
	subsystems []Subsystem
}

// NewController creates a Controller over the given subsystems.
func NewController(subsystems ...Subsystem) *Controller {
	return &Controller{subsystems: subsystems}
}

// InitAll initializes every subsystem in order. On the first failure the
// already-initialized subsystems are destroyed in reverse and the error is
// returned.
func (c *Controller) InitAll(ctx context.Context) error {
	for i, sub := range c.subsystems {
		if err := sub.Init(ctx); err != nil {
			log.Printf("[lifecycle] init %s failed: %v", sub.Name(), err)
			for j := i - 1; j >= 0; j-- {
				c.subsystems[j].Destroy()
			}
			return fmt.Errorf("init %s: %w", sub.Name(), err)
		}
		log.Printf("[lifecycle] %s initialized", sub.Name())
	}
	return nil
}

// DestroyAll destroys every subsystem in reverse order. Safe to call twice.
func (c *Controller) DestroyAll() {
	for i := len(c.subsystems) - 1; i >= 0; i-- {
		c.subsystems[i].Destroy()
	}
}
