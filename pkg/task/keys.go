package task

import "github.com/Sternrassler/tasksync/pkg/cache"

// Query keys. Every task key lives under All, and every list variant under
// Lists, so invalidating a prefix reaches all of them.

// All is the root of every task query.
func All() cache.Key {
	return cache.K("tasks")
}

// Lists is the unfiltered task list and the prefix of every filtered list.
func Lists() cache.Key {
	return All().Append(cache.Str("list"))
}

// List is a task list narrowed by filters.
func List(filters map[string]string) cache.Key {
	return Lists().Append(cache.Params(filters))
}

// Details is the prefix of every single-task key.
func Details() cache.Key {
	return All().Append(cache.Str("detail"))
}

// Detail is the key of one task.
func Detail(id string) cache.Key {
	return Details().Append(cache.Str(id))
}

// Searches is the prefix of every title search.
func Searches() cache.Key {
	return All().Append(cache.Str("search"))
}

// Search is the key of a title search.
func Search(query string) cache.Key {
	return Searches().Append(cache.Str(query))
}
