package stream

import "sort"

// collectImages ports _collect_images: recursively walks a decoded
// JSON value, gathering any string found under the keys
// generatedImageUrls/imageUrls/imageURLs, deduplicated and in
// first-seen order (object keys are visited in sorted order).
func collectImages(obj interface{}) []string {
	var urls []string
	seen := make(map[string]struct{})

	add := func(u string) {
		if u == "" {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}

	var walk func(v interface{})
	walk = func(v interface{}) {
		switch val := v.(type) {
		case map[string]interface{}:
			keys := make([]string, 0, len(val))
			for key := range val {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			for _, key := range keys {
				item := val[key]
				if key == "generatedImageUrls" || key == "imageUrls" || key == "imageURLs" {
					switch list := item.(type) {
					case []interface{}:
						for _, u := range list {
							if s, ok := u.(string); ok {
								add(s)
							}
						}
					case string:
						add(list)
					}
					continue
				}
				walk(item)
			}
		case []interface{}:
			for _, item := range val {
				walk(item)
			}
		}
	}
	walk(obj)
	return urls
}

// imageIDFromURL mirrors the "parts[-2]" img_id extraction used by
// both StreamProcessor and CollectProcessor when rendering a
// download-service URL as a markdown image.
func imageIDFromURL(url string) string {
	parts := splitPath(url)
	if len(parts) >= 2 {
		return parts[len(parts)-2]
	}
	return "image"
}

func splitPath(s string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}
