package utils

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
)

func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}

// CacheKey builds a namespaced cache key from an arbitrary parameter struct.
// Identical parameters always produce the same key.
func CacheKey(namespace string, params interface{}) string {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("%s:%s", namespace, HashString(fmt.Sprintf("%+v", params)))
	}
	return fmt.Sprintf("%s:%s", namespace, HashString(string(data)))
}
