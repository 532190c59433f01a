package redis

// ScanResponse parses response of Scan command, returns iterator and array of keys.
func ScanResponse(res interface{}) ([]byte, []string, error) {
	if err := AsError(res); err != nil {
		return nil, nil, err
	}
	var ok bool
	var arr []interface{}
	var it []byte
	var keys []interface{}
	var strs []string
	if arr, ok = res.([]interface{}); !ok || len(arr) != 2 {
		goto wrong
	}
	if it, ok = arr[0].([]byte); !ok {
		goto wrong
	}
	if keys, ok = arr[1].([]interface{}); !ok {
		goto wrong
	}
	strs = make([]string, len(keys))
	for i, k := range keys {
		var b []byte
		if b, ok = k.([]byte); !ok {
			goto wrong
		}
		strs[i] = string(b)
	}
	return it, strs, nil

wrong:
	return nil, nil, ErrResponseUnexpected.NewWithNoMessage().WithProperty(EKResponse, res)
}

// TransactionResponse parses response of EXEC command, returns array of answers.
func TransactionResponse(res interface{}) ([]interface{}, error) {
	if arr, ok := res.([]interface{}); ok {
		return arr, nil
	}
	if res == nil {
		res = ErrExecEmpty.NewWithNoMessage()
	}
	if _, ok := res.(error); !ok {
		res = ErrResponseUnexpected.NewWithNoMessage().WithProperty(EKResponse, res)
	}
	return nil, res.(error)
}

// StringsResponse converts array of bulk strings (SMEMBERS, SINTER, KEYS...) into slice of strings.
func StringsResponse(res interface{}) ([]string, error) {
	if err := AsError(res); err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	arr, ok := res.([]interface{})
	if !ok {
		return nil, ErrResponseUnexpected.NewWithNoMessage().WithProperty(EKResponse, res)
	}
	strs := make([]string, 0, len(arr))
	for _, v := range arr {
		switch s := v.(type) {
		case []byte:
			strs = append(strs, string(s))
		case string:
			strs = append(strs, s)
		case nil:
		default:
			return nil, ErrResponseUnexpected.NewWithNoMessage().WithProperty(EKResponse, res)
		}
	}
	return strs, nil
}

// MapResponse converts flat array of field/value pairs (HGETALL, CONFIG GET) into map.
func MapResponse(res interface{}) (map[string]string, error) {
	strs, err := StringsResponse(res)
	if err != nil {
		return nil, err
	}
	if len(strs)%2 != 0 {
		return nil, ErrResponseUnexpected.New("odd number of elements").WithProperty(EKResponse, res)
	}
	m := make(map[string]string, len(strs)/2)
	for i := 0; i < len(strs); i += 2 {
		m[strs[i]] = strs[i+1]
	}
	return m, nil
}
