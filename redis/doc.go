/*
Package redis contains common parts for other packages.

- main interfaces visible to user (Sender, Scanner, ScanOpts)

- wrappers to improve usability of interfaces (Sync, SyncCtx)

- request writing and response parsing (AppendRequest, ReadResponse)

- read preference shared by master/replica, sentinel and cluster senders (ReadFrom)

- errors and traits used across the module

Results are de-serialized into plain go types and are returned as interface{}:

  redis        | go
  -------------|-------
  plain string | string
  bulk string  | []byte
  integer      | int64
  array        | []interface{}
  error        | error (*errorx.Error)

IO, connection, and other errors are not returned separately but as result (and has same
*errorx.Error underlying type).
*/
package redis
