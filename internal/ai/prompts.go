package ai

import "fmt"

// ExtractionPrompt asks a vision model for store records in an image.
const ExtractionPrompt = `
This image is a screenshot of a Google Maps listing or an Instagram-style social media post.
Extract the following information for every store (café, restaurant, shop) shown in the image:
1. Store name
2. Address (as detailed as possible)
3. Phone number (if shown)
4. Opening hours (if shown)

Answer with a JSON array, one object per store, keeping the values in the language shown in the image:
[
    {
        "store_name": "store name",
        "address": "address",
        "phone": "phone number",
        "hours": "opening hours"
    }
]

Notes:
1. Social media posts display the account name of the poster. Do NOT mistake the account name for the store name.
2. Omit fields that are not visible instead of guessing.
3. If nothing can be extracted, return this JSON instead:
{
    "error": "reason the extraction failed"
}
`

// MapURLPrompt asks the model to compose a Google Maps search URL.
func MapURLPrompt(storeName, address string) string {
	return fmt.Sprintf(`
Generate a Google Maps search URL for the following store.
Store name: %s
Address: %s

Return JSON in this format:
{
    "map_url": "https://www.google.com/maps/search/?api=1&query=URL_ENCODED_QUERY"
}

Notes:
1. The search query is "store name address" (separated by a single space) and must be URL encoded.
2. If the store name or the address is unknown, use only the information available.
3. If there is not enough information, return this JSON instead:
{
    "error": "not enough information to generate a URL"
}
`, storeName, address)
}
