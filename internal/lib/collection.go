package lib

import "sync"

type IModel interface {
	GetID() string
}

// Collection is a typed keyed set of models safe for concurrent use
type Collection[T IModel] struct {
	items sync.Map
}

func NewCollection[T IModel]() *Collection[T] {
	return &Collection[T]{}
}

func (c *Collection[T]) Store(item T) {
	c.items.Store(item.GetID(), item)
}

func (c *Collection[T]) Load(id string) (item T, ok bool) {
	if value, ok := c.items.Load(id); ok {
		return value.(T), true
	}
	return item, false
}

func (c *Collection[T]) Delete(id string) {
	c.items.Delete(id)
}

func (c *Collection[T]) Range(f func(item T) bool) {
	c.items.Range(func(key, value any) bool {
		return f(value.(T))
	})
}

func (c *Collection[T]) Len() int {
	count := 0
	c.items.Range(func(key, value any) bool {
		count++
		return true
	})
	return count
}
